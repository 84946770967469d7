package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/license"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

// Registry is the license lifecycle surface used by the key-management and
// admin handlers.
type Registry interface {
	Create(ctx context.Context, p license.CreateParams) (*models.License, error)
	Disable(ctx context.Context, key, reason string) error
	Activate(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*license.LicenseDetail, error)
	List(ctx context.Context) ([]*models.LicenseSummary, error)
}

const deactivateReason = "Deactivated"

type keyRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

type keyResponse struct {
	LicenseKey string `json:"license_key"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// NewGenerateKeyHandler returns an http.HandlerFunc for GET /api/generate-key.
func NewGenerateKeyHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lic, err := reg.Create(r.Context(), license.CreateParams{})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, keyResponse{LicenseKey: lic.Key})
	}
}

type verifyResponse struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
	LicenseKey string `json:"license_key,omitempty"`
}

// NewVerifyHandler returns an http.HandlerFunc for POST /api/verify.
// Answers 200 when the key is usable, 404 when unknown and 403 otherwise;
// the body always carries the valid flag.
func NewVerifyHandler(c StatusChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if err := decode(r, &req); err != nil {
			msg := "license_key is required"
			if errors.Is(err, errInvalidJSON) {
				msg = "Invalid JSON body"
			}
			response.Status(w, http.StatusBadRequest, verifyResponse{Message: msg})
			return
		}

		rep, err := c.CheckStatus(r.Context(), req.LicenseKey)
		switch {
		case errors.Is(err, license.ErrMissingFields):
			response.Status(w, http.StatusBadRequest, verifyResponse{Message: "license_key is required"})
			return
		case errors.Is(err, license.ErrNotFound):
			response.Status(w, http.StatusNotFound, verifyResponse{Message: "License key not found"})
			return
		case err != nil:
			writeServiceError(w, r, err)
			return
		}

		if !rep.Active {
			response.Status(w, http.StatusForbidden, verifyResponse{
				Message:    inactiveMessage(rep),
				LicenseKey: rep.Key,
			})
			return
		}
		response.JSON(w, verifyResponse{Valid: true, Message: "License is valid", LicenseKey: rep.Key})
	}
}

func inactiveMessage(rep *license.StatusReport) string {
	switch rep.Status {
	case models.StatusDisabled:
		if rep.Reason != nil && *rep.Reason != "" {
			return "License has been deactivated: " + *rep.Reason
		}
		return "License has been deactivated"
	default:
		return "License has expired"
	}
}

type simpleLicense struct {
	LicenseKey string    `json:"license_key"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/licenses.
func NewListKeysHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := reg.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		now := time.Now()
		out := make([]simpleLicense, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, simpleLicense{
				LicenseKey: s.Key,
				Active:     s.IsActiveAt(now),
				CreatedAt:  s.CreatedAt,
			})
		}
		response.JSON(w, out)
	}
}

// NewActivateKeyHandler returns an http.HandlerFunc for POST /api/activate.
func NewActivateKeyHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if err := decode(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := reg.Activate(r.Context(), req.LicenseKey); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, messageResponse{Message: "License activated"})
	}
}

// NewDeactivateKeyHandler returns an http.HandlerFunc for POST /api/deactivate.
func NewDeactivateKeyHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if err := decode(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := reg.Disable(r.Context(), req.LicenseKey, deactivateReason); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, messageResponse{Message: "License deactivated"})
	}
}

// NewDeleteKeyHandler returns an http.HandlerFunc for DELETE /api/licenses/{key}.
func NewDeleteKeyHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(chi.URLParam(r, "key"))
		if err := reg.Delete(r.Context(), key); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, messageResponse{Message: "License deleted"})
	}
}
