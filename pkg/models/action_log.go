package models

import (
	"time"

	"github.com/google/uuid"
)

// Action tags written to the audit log.
const (
	ActionValidateSuccess  = "VALIDATE_SUCCESS"
	ActionValidateFailed   = "VALIDATE_FAILED"
	ActionLicenseCreated   = "LICENSE_CREATED"
	ActionLicenseDisabled  = "LICENSE_DISABLED"
	ActionLicenseActivated = "LICENSE_ACTIVATED"
	ActionLicenseExpired   = "LICENSE_EXPIRED"
	ActionLicenseDeleted   = "LICENSE_DELETED"
)

// ActionLog is an append-only audit record. Entries outlive the license they
// mention, so LicenseKey is not a foreign key.
type ActionLog struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	LicenseKey string    `db:"license_key" json:"license_key"`
	Action     string    `db:"action"      json:"action"`
	Details    string    `db:"details"     json:"details"`
	Timestamp  time.Time `db:"timestamp"   json:"timestamp"`
}
