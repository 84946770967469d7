package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/licensegate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicense(ctx context.Context, key string) (*models.License, error)
	ListLicenses(ctx context.Context, activeSince time.Time) ([]*models.LicenseSummary, error)
	DeleteLicense(ctx context.Context, key string) error

	// LockLicense runs fn inside a transaction holding a row lock on the
	// license, so concurrent callers for the same key are serialised.
	// fn returning nil commits; any error rolls back and is returned as is.
	// Returns ErrNotFound without calling fn when the key does not exist.
	LockLicense(ctx context.Context, key string, fn func(tx LicenseTx) error) error

	ListBindings(ctx context.Context, key string) ([]*models.ServerBinding, error)

	AppendLog(ctx context.Context, entry *models.ActionLog) error
}

// LicenseTx is the view of one locked license handed to Store.LockLicense callbacks.
type LicenseTx interface {
	// License returns the row as read under the lock. SetStatus and
	// TouchLastCheck keep it in sync.
	License() *models.License
	SetStatus(ctx context.Context, status models.LicenseStatus, reason *string) error
	TouchLastCheck(ctx context.Context, at time.Time) error
	CountBindings(ctx context.Context) (int, error)
	HasBinding(ctx context.Context, serverID string) (bool, error)
	UpsertBinding(ctx context.Context, b *models.ServerBinding) error
}
