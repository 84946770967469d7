// Package license implements the license registry and the server admission check.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/audit"
	"github.com/kiranshivaraju/licensegate/internal/cache"
	"github.com/kiranshivaraju/licensegate/internal/metrics"
	"github.com/kiranshivaraju/licensegate/internal/store"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

const (
	defaultDisableReason = "Disabled by admin"
	expiredReason        = "License expired"
	maxKeyAttempts       = 3
)

// Options tunes a Service. Zero values select defaults.
type Options struct {
	QueryTimeout   time.Duration
	StatusCacheTTL time.Duration
	ActiveWindow   time.Duration
	Metrics        *metrics.Metrics
}

// Service owns the license lifecycle, the server bindings, and the admission check.
type Service struct {
	store        store.Store
	cache        cache.Cache
	recorder     audit.Recorder
	metrics      *metrics.Metrics
	timeout      time.Duration
	cacheTTL     time.Duration
	activeWindow time.Duration

	now    func() time.Time
	newKey func() (string, error)
}

// NewService creates a new Service.
func NewService(st store.Store, c cache.Cache, rec audit.Recorder, opts Options) *Service {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	if opts.StatusCacheTTL <= 0 {
		opts.StatusCacheTTL = 30 * time.Second
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = time.Hour
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		store:        st,
		cache:        c,
		recorder:     rec,
		metrics:      opts.Metrics,
		timeout:      opts.QueryTimeout,
		cacheTTL:     opts.StatusCacheTTL,
		activeWindow: opts.ActiveWindow,
		now:          time.Now,
		newKey:       GenerateKey,
	}
}

// CreateParams describes a new license. Key is generated when empty and
// MaxServers defaults to models.DefaultMaxServers when zero.
type CreateParams struct {
	Key        string
	Owner      string
	Email      *string
	ExpiresAt  *time.Time
	MaxServers int
}

// StatusReport is the read-only view returned by CheckStatus.
type StatusReport struct {
	Key       string
	Status    models.LicenseStatus
	Reason    *string
	ExpiresAt *time.Time
	Active    bool
}

// ServerStatus is a binding plus whether it was seen within the active window.
type ServerStatus struct {
	models.ServerBinding
	Active bool `json:"active"`
}

// LicenseDetail is a license with all of its bindings.
type LicenseDetail struct {
	License       *models.License
	Servers       []ServerStatus
	ActiveServers int
}

// Create inserts a new ACTIVE license.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.License, error) {
	if p.MaxServers < 0 {
		return nil, ErrInvalidMaxServers
	}
	if p.MaxServers == 0 {
		p.MaxServers = models.DefaultMaxServers
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lic := &models.License{
		Key:        strings.TrimSpace(p.Key),
		Owner:      strings.TrimSpace(p.Owner),
		Email:      p.Email,
		Status:     models.StatusActive,
		MaxServers: p.MaxServers,
		CreatedAt:  s.now().UTC(),
	}
	if p.ExpiresAt != nil {
		exp := p.ExpiresAt.UTC()
		lic.ExpiresAt = &exp
	}

	generated := lic.Key == ""
	for attempt := 1; ; attempt++ {
		if generated {
			key, err := s.newKey()
			if err != nil {
				return nil, fmt.Errorf("generate license key: %w", err)
			}
			lic.Key = key
		}

		err := s.store.CreateLicense(ctx, lic)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("create license: %w", err)
		}
		if !generated || attempt >= maxKeyAttempts {
			return nil, ErrConflict
		}
	}

	s.recorder.Record(ctx, lic.Key, models.ActionLicenseCreated,
		fmt.Sprintf("owner=%q max_servers=%d", lic.Owner, lic.MaxServers))
	s.metrics.ObserveAction(models.ActionLicenseCreated)
	return lic, nil
}

// Disable moves a license to DISABLED with reason, defaulting to
// "Disabled by admin". Disabling twice re-applies the same update. An
// EXPIRED license stays EXPIRED and ErrExpired is returned.
func (s *Service) Disable(ctx context.Context, key, reason string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingFields
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultDisableReason
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.store.LockLicense(ctx, key, func(tx store.LicenseTx) error {
		if tx.License().Status == models.StatusExpired {
			return ErrExpired
		}
		return tx.SetStatus(ctx, models.StatusDisabled, &reason)
	})
	if err != nil {
		return s.mapStoreErr("disable license", err)
	}

	s.invalidate(ctx, key)
	s.recorder.Record(ctx, key, models.ActionLicenseDisabled, reason)
	s.metrics.ObserveAction(models.ActionLicenseDisabled)
	return nil
}

// Activate moves a DISABLED license back to ACTIVE. Activating an ACTIVE
// license is a no-op. EXPIRED licenses cannot be re-activated.
func (s *Service) Activate(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	changed := false
	err := s.store.LockLicense(ctx, key, func(tx store.LicenseTx) error {
		switch tx.License().Status {
		case models.StatusExpired:
			return ErrExpired
		case models.StatusActive:
			return nil
		}
		changed = true
		return tx.SetStatus(ctx, models.StatusActive, nil)
	})
	if err != nil {
		return s.mapStoreErr("activate license", err)
	}

	if changed {
		s.invalidate(ctx, key)
		s.recorder.Record(ctx, key, models.ActionLicenseActivated, "")
		s.metrics.ObserveAction(models.ActionLicenseActivated)
	}
	return nil
}

// Delete removes a license and, through the foreign key, its bindings.
// Audit entries are kept.
func (s *Service) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.DeleteLicense(ctx, key); err != nil {
		return s.mapStoreErr("delete license", err)
	}

	s.invalidate(ctx, key)
	s.recorder.Record(ctx, key, models.ActionLicenseDeleted, "")
	s.metrics.ObserveAction(models.ActionLicenseDeleted)
	return nil
}

// CheckStatus reports the stored status without mutating it; an ACTIVE
// license past its expiry reports Active=false but keeps status ACTIVE until
// the next validation.
func (s *Service) CheckStatus(ctx context.Context, key string) (*StatusReport, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap, found, err := s.cache.GetLicenseStatus(ctx, key)
	if err != nil {
		slog.Warn("status cache read failed", "license_key", key, "error", err)
		found = false
	}

	if !found {
		// The generation is read before storage so that a mutation committing
		// in between makes the fill below a no-op.
		gen, genErr := s.cache.LicenseGeneration(ctx, key)
		if genErr != nil {
			slog.Warn("status cache generation read failed", "license_key", key, "error", genErr)
		}

		lic, err := s.store.GetLicense(ctx, key)
		if err != nil {
			return nil, s.mapStoreErr("check license status", err)
		}
		snap = &cache.StatusSnapshot{Status: lic.Status, Reason: lic.Reason, ExpiresAt: lic.ExpiresAt}

		if genErr == nil {
			stored, err := s.cache.SetLicenseStatus(ctx, key, gen, snap, s.cacheTTL)
			switch {
			case err != nil:
				slog.Warn("status cache write failed", "license_key", key, "error", err)
			case !stored:
				slog.Debug("status cache fill skipped, license changed during read", "license_key", key)
			}
		}
	}

	lic := models.License{Status: snap.Status, ExpiresAt: snap.ExpiresAt}
	return &StatusReport{
		Key:       key,
		Status:    snap.Status,
		Reason:    snap.Reason,
		ExpiresAt: snap.ExpiresAt,
		Active:    lic.IsActiveAt(s.now()),
	}, nil
}

// Get returns a license with every server binding.
func (s *Service) Get(ctx context.Context, key string) (*LicenseDetail, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return nil, s.mapStoreErr("get license", err)
	}
	bindings, err := s.store.ListBindings(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}

	since := s.now().Add(-s.activeWindow)
	detail := &LicenseDetail{License: lic, Servers: make([]ServerStatus, 0, len(bindings))}
	for _, b := range bindings {
		active := !b.LastSeen.Before(since)
		if active {
			detail.ActiveServers++
		}
		detail.Servers = append(detail.Servers, ServerStatus{ServerBinding: *b, Active: active})
	}
	return detail, nil
}

// List returns every license, newest first, with the number of bindings
// seen within the active window.
func (s *Service) List(ctx context.Context) ([]*models.LicenseSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summaries, err := s.store.ListLicenses(ctx, s.now().Add(-s.activeWindow))
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return summaries, nil
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if err := s.cache.InvalidateLicense(ctx, key); err != nil {
		slog.Warn("status cache invalidation failed", "license_key", key, "error", err)
	}
}

func (s *Service) mapStoreErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrExpired), errors.Is(err, ErrMissingFields):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
