package types

import (
	"github.com/killallgit/episode-harvester/internal/services/ledger"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Dependencies holds all the dependencies needed by handlers
type Dependencies struct {
	Ledger    ledger.Service
	OutputDir string
	Build     BuildInfo
}
