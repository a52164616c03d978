// Package domain holds the core models for the bank sync engine:
// connections, accounts, transactions, and sync history.
package domain

import "time"

// ConnectionStatus is the lifecycle state of a bank connection.
type ConnectionStatus string

const (
	// ConnectionPending: OAuth linking started but not completed.
	ConnectionPending ConnectionStatus = "pending"
	// ConnectionActive: credentials valid, connection syncs normally.
	ConnectionActive ConnectionStatus = "active"
	// ConnectionExpired: refresh token rejected; user must re-link.
	ConnectionExpired ConnectionStatus = "expired"
	// ConnectionRevoked: tokens revoked at the provider.
	ConnectionRevoked ConnectionStatus = "revoked"
)

// BankConnection is one linked external bank integration belonging to a tenant.
// Access/refresh tokens are stored encrypted and are only meaningful while
// the status is pending, active, or expired.
type BankConnection struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenantId"`
	InstitutionName string           `json:"institutionName"`
	Status          ConnectionStatus `json:"status"`
	AccessToken     string           `json:"-"`
	RefreshToken    string           `json:"-"`
	TokenExpiresAt  time.Time        `json:"-"`
	LastSyncAt      *time.Time       `json:"lastSyncAt,omitempty"`
	LastSyncStatus  string           `json:"lastSyncStatus,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Syncable reports whether the scheduler should attempt a sync for this
// connection. Expired connections are included so a refresh can be retried
// after the provider recovers from a bad rotation.
func (c *BankConnection) Syncable() bool {
	return c.Status == ConnectionActive || c.Status == ConnectionExpired
}

// TokenPair is a rotated OAuth credential set returned by the provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
