package types

import (
	"github.com/killallgit/episode-harvester/internal/models"
)

// Status constants for API responses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// BaseResponse contains fields common to all API responses
type BaseResponse struct {
	Status  string `json:"status"`            // One of the Status constants above
	Message string `json:"message,omitempty"` // Human-readable message
}

// ErrorResponse for detailed error information
type ErrorResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`   // Error code
	Details interface{} `json:"details,omitempty"` // Additional error details
}

// LedgerEntriesResponse lists ledger rows
type LedgerEntriesResponse struct {
	BaseResponse
	Entries []models.LedgerEntry `json:"entries"`
	Count   int                  `json:"count"`
	Filter  string               `json:"filter,omitempty"` // status filter, if any
}

// LedgerEntryResponse wraps a single ledger row
type LedgerEntryResponse struct {
	BaseResponse
	Entry *models.LedgerEntry `json:"entry"`
}

// SummaryResponse reports entry counts per status
type SummaryResponse struct {
	BaseResponse
	Counts map[models.Status]int `json:"counts"`
	Total  int                   `json:"total"`
}
