package domain

import "time"

// SyncStatus is the outcome of one sync attempt.
type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

// SyncHistory records one sync attempt for a connection. Created when the
// attempt starts, finalized exactly once when it ends, never mutated after.
// Owned exclusively by BankConnection and cascade-deleted with it.
type SyncHistory struct {
	ID                   string     `json:"id"`
	ConnectionID         string     `json:"connectionId"`
	StartedAt            time.Time  `json:"startedAt"`
	FinishedAt           *time.Time `json:"finishedAt,omitempty"`
	Status               SyncStatus `json:"status"`
	TransactionsImported int        `json:"transactionsImported"`
	ErrorMessage         string     `json:"errorMessage,omitempty"`
}

// SyncResult is what a manual sync trigger returns to the caller.
type SyncResult struct {
	ConnectionID string     `json:"connectionId"`
	Status       SyncStatus `json:"status"`
	Imported     int        `json:"imported"`
	Skipped      int        `json:"skipped"`
	Errors       []string   `json:"errors,omitempty"`
}

// DisconnectResult reports what the disconnect reconciler did.
type DisconnectResult struct {
	TransactionsPreserved int `json:"transactionsPreserved"`
	AccountsDeleted       int `json:"accountsDeleted"`
}
