package ledger

import "errors"

var (
	// ErrEntryNotFound is returned by Get when no entry exists for an identity
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrLedgerLocked means another process holds the ledger lock file
	ErrLedgerLocked = errors.New("ledger is locked by another process")

	// ErrReadOnly is returned by writes on a ledger opened read-only
	ErrReadOnly = errors.New("ledger is open read-only")

	// ErrInvalidStatus rejects upserts with an unknown status
	ErrInvalidStatus = errors.New("invalid ledger status")
)
