package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/license"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

type createLicenseRequest struct {
	LicenseKey string     `json:"license_key" validate:"omitempty,max=128"`
	Owner      string     `json:"owner"       validate:"required"`
	Email      string     `json:"email"       validate:"omitempty,email"`
	ExpiresAt  *time.Time `json:"expires_at"`
	MaxServers *int       `json:"max_servers" validate:"omitempty,min=1"`
}

type adminResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	LicenseKey string `json:"license_key,omitempty"`
}

// NewAdminCreateHandler returns an http.HandlerFunc for POST /api/admin/license/create.
func NewAdminCreateHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLicenseRequest
		if err := decode(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		p := license.CreateParams{
			Key:       req.LicenseKey,
			Owner:     req.Owner,
			ExpiresAt: req.ExpiresAt,
		}
		if email := strings.TrimSpace(req.Email); email != "" {
			p.Email = &email
		}
		if req.MaxServers != nil {
			p.MaxServers = *req.MaxServers
		}

		lic, err := reg.Create(r.Context(), p)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Created(w, adminResponse{
			Success:    true,
			Message:    "License created",
			LicenseKey: lic.Key,
		})
	}
}

type disableRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Reason     string `json:"reason"`
}

// NewAdminDisableHandler returns an http.HandlerFunc for POST /api/admin/license/disable.
func NewAdminDisableHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req disableRequest
		if err := decode(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := reg.Disable(r.Context(), req.LicenseKey, req.Reason); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, adminResponse{Success: true, Message: "License disabled"})
	}
}

// NewAdminActivateHandler returns an http.HandlerFunc for POST /api/admin/license/activate.
func NewAdminActivateHandler(reg Registry) http.HandlerFunc {
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
		response.JSON(w, adminResponse{Success: true, Message: "License activated"})
	}
}

type licenseListResponse struct {
	Licenses []*models.LicenseSummary `json:"licenses"`
}

// NewAdminListHandler returns an http.HandlerFunc for GET /api/admin/licenses.
func NewAdminListHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := reg.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if summaries == nil {
			summaries = []*models.LicenseSummary{}
		}
		response.JSON(w, licenseListResponse{Licenses: summaries})
	}
}

type licenseDetailResponse struct {
	License       *models.License        `json:"license"`
	Servers       []license.ServerStatus `json:"servers"`
	ActiveServers int                    `json:"active_servers"`
}

// NewAdminGetHandler returns an http.HandlerFunc for GET /api/admin/licenses/{key}.
func NewAdminGetHandler(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := reg.Get(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, licenseDetailResponse{
			License:       detail.License,
			Servers:       detail.Servers,
			ActiveServers: detail.ActiveServers,
		})
	}
}
