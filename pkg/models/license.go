// Package models contains shared data models used across the licensegate codebase.
package models

import "time"

// LicenseStatus is the lifecycle state of a license.
type LicenseStatus string

const (
	StatusActive   LicenseStatus = "ACTIVE"
	StatusDisabled LicenseStatus = "DISABLED"
	StatusExpired  LicenseStatus = "EXPIRED"
)

// DefaultMaxServers is the installation cap applied when a create request omits one.
const DefaultMaxServers = 1

// License grants use of the product to a bounded number of installations.
// Owner, email and expiry are optional; licenses minted through the public
// generate endpoint carry only a key.
type License struct {
	Key        string        `db:"license_key" json:"license_key"`
	Owner      string        `db:"owner"       json:"owner"`
	Email      *string       `db:"email"       json:"email,omitempty"`
	Status     LicenseStatus `db:"status"      json:"status"`
	Reason     *string       `db:"reason"      json:"reason,omitempty"`
	MaxServers int           `db:"max_servers" json:"max_servers"`
	ExpiresAt  *time.Time    `db:"expires_at"  json:"expires_at,omitempty"`
	LastCheck  *time.Time    `db:"last_check"  json:"last_check,omitempty"`
	CreatedAt  time.Time     `db:"created_at"  json:"created_at"`
}

// IsExpiredAt reports whether the license has an expiry that is not after now.
func (l *License) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// IsActiveAt reports whether the license is ACTIVE and not past its expiry.
func (l *License) IsActiveAt(now time.Time) bool {
	return l.Status == StatusActive && !l.IsExpiredAt(now)
}

// LicenseSummary is a license plus the number of bindings seen recently.
type LicenseSummary struct {
	License
	ActiveServers int `json:"active_servers"`
}
