package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/metrics"
	"github.com/kiranshivaraju/licensegate/internal/store"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

// ValidateRequest is one installation asking to use a license.
type ValidateRequest struct {
	LicenseKey       string
	ServerID         string
	ServerIP         string
	ServerPort       int
	PluginVersion    string
	MinecraftVersion string
	OnlinePlayers    int
	MaxPlayers       int
}

// ValidateResult describes a successful admission.
type ValidateResult struct {
	Status        models.LicenseStatus
	Owner         string
	ExpiresAt     *time.Time
	ActiveServers int
	MaxServers    int
	NewlyBound    bool
}

// Validate decides whether the server may use the license and, if so,
// records or refreshes its binding. The whole decision runs under a row lock
// on the license, so two new servers racing for the last slot cannot both
// be admitted.
//
// Business refusals are returned as *Rejection; a missing license as
// ErrNotFound; incomplete input as ErrMissingFields.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	key := strings.TrimSpace(req.LicenseKey)
	serverID := strings.TrimSpace(req.ServerID)
	if key == "" || serverID == "" {
		s.metrics.ObserveValidation(metrics.OutcomeMissingFields)
		return nil, ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	var (
		result  *ValidateResult
		reject  *Rejection
		expired bool
	)

	err := s.store.LockLicense(ctx, key, func(tx store.LicenseTx) error {
		lic := tx.License()

		if lic.Status != models.StatusActive {
			reject = &Rejection{
				Err:        ErrInactive,
				Status:     lic.Status,
				Reason:     reasonOf(lic),
				MaxServers: lic.MaxServers,
			}
			return nil
		}

		if lic.IsExpiredAt(now) {
			reason := expiredReason
			if err := tx.SetStatus(ctx, models.StatusExpired, &reason); err != nil {
				return err
			}
			expired = true
			reject = &Rejection{
				Err:        ErrExpired,
				Status:     models.StatusExpired,
				Reason:     reason,
				MaxServers: lic.MaxServers,
			}
			return nil
		}

		count, err := tx.CountBindings(ctx)
		if err != nil {
			return err
		}
		bound, err := tx.HasBinding(ctx, serverID)
		if err != nil {
			return err
		}

		if !bound && count >= lic.MaxServers {
			reject = &Rejection{
				Err:           ErrCapacityExceeded,
				Status:        lic.Status,
				Reason:        fmt.Sprintf("Maximum servers reached (%d/%d)", count, lic.MaxServers),
				ActiveServers: count,
				MaxServers:    lic.MaxServers,
			}
			return nil
		}

		if err := tx.UpsertBinding(ctx, &models.ServerBinding{
			LicenseKey:       key,
			ServerID:         serverID,
			ServerIP:         req.ServerIP,
			ServerPort:       req.ServerPort,
			PluginVersion:    req.PluginVersion,
			MinecraftVersion: req.MinecraftVersion,
			OnlinePlayers:    req.OnlinePlayers,
			MaxPlayers:       req.MaxPlayers,
			FirstSeen:        now,
			LastSeen:         now,
		}); err != nil {
			return err
		}
		if err := tx.TouchLastCheck(ctx, now); err != nil {
			return err
		}

		if !bound {
			count++
		}
		result = &ValidateResult{
			Status:        lic.Status,
			Owner:         lic.Owner,
			ExpiresAt:     lic.ExpiresAt,
			ActiveServers: count,
			MaxServers:    lic.MaxServers,
			NewlyBound:    !bound,
		}
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.recorder.Record(ctx, key, models.ActionValidateFailed,
			fmt.Sprintf("server=%s: license not found", serverID))
		s.metrics.ObserveValidation(metrics.OutcomeNotFound)
		return nil, ErrNotFound
	case err != nil:
		s.metrics.ObserveValidation(metrics.OutcomeError)
		return nil, fmt.Errorf("validate license: %w", err)
	}

	if reject != nil {
		if expired {
			s.invalidate(ctx, key)
			s.recorder.Record(ctx, key, models.ActionLicenseExpired, "expired on validation")
			s.metrics.ObserveAction(models.ActionLicenseExpired)
		}
		s.recorder.Record(ctx, key, models.ActionValidateFailed,
			fmt.Sprintf("server=%s: %s", serverID, reject.Error()))
		s.metrics.ObserveValidation(outcomeOf(reject))
		return nil, reject
	}

	s.recorder.Record(ctx, key, models.ActionValidateSuccess,
		fmt.Sprintf("server=%s ip=%s players=%d/%d", serverID, req.ServerIP, req.OnlinePlayers, req.MaxPlayers))
	s.metrics.ObserveValidation(metrics.OutcomeSuccess)
	return result, nil
}

func reasonOf(lic *models.License) string {
	if lic.Reason != nil && *lic.Reason != "" {
		return *lic.Reason
	}
	return "License is " + strings.ToLower(string(lic.Status))
}

func outcomeOf(r *Rejection) string {
	switch {
	case errors.Is(r, ErrExpired):
		return metrics.OutcomeExpired
	case errors.Is(r, ErrCapacityExceeded):
		return metrics.OutcomeCapacityExceeded
	default:
		return metrics.OutcomeInactive
	}
}
