package license

import (
	"errors"

	"github.com/kiranshivaraju/licensegate/pkg/models"
)

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrInvalidMaxServers = errors.New("max_servers must be at least 1")
	ErrNotFound          = errors.New("license not found")
	ErrConflict          = errors.New("license already exists")
	ErrInactive          = errors.New("license is not active")
	ErrExpired           = errors.New("license has expired")
	ErrCapacityExceeded  = errors.New("maximum number of servers reached")
)

// Rejection is a business-rule refusal. It wraps one of ErrInactive,
// ErrExpired or ErrCapacityExceeded and carries the license state the
// caller is shown.
type Rejection struct {
	Err           error
	Status        models.LicenseStatus
	Reason        string
	ActiveServers int
	MaxServers    int
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Err.Error()
	}
	return r.Err.Error() + ": " + r.Reason
}

func (r *Rejection) Unwrap() error { return r.Err }
