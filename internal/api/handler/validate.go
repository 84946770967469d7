package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/license"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

// Validator is the admission check the validate handler depends on.
type Validator interface {
	Validate(ctx context.Context, req license.ValidateRequest) (*license.ValidateResult, error)
}

// StatusChecker reports a license's status without side effects.
type StatusChecker interface {
	CheckStatus(ctx context.Context, key string) (*license.StatusReport, error)
}

type validateRequest struct {
	LicenseKey       string `json:"license_key"       validate:"required"`
	ServerID         string `json:"server_id"         validate:"required"`
	ServerIP         string `json:"server_ip"`
	ServerPort       int    `json:"server_port"       validate:"min=0,max=65535"`
	PluginVersion    string `json:"plugin_version"`
	MinecraftVersion string `json:"minecraft_version"`
	OnlinePlayers    int    `json:"online_players"    validate:"min=0"`
	MaxPlayers       int    `json:"max_players"       validate:"min=0"`
}

// validateOK always carries owner and expires, even when empty.
type validateOK struct {
	Valid         bool                 `json:"valid"`
	Active        bool                 `json:"active"`
	Status        models.LicenseStatus `json:"status"`
	Owner         string               `json:"owner"`
	Expires       *time.Time           `json:"expires"`
	ActiveServers int                  `json:"active_servers"`
	MaxServers    int                  `json:"max_servers"`
	Message       string               `json:"message"`
}

type validateResponse struct {
	Valid         bool                 `json:"valid"`
	Active        bool                 `json:"active"`
	Status        models.LicenseStatus `json:"status,omitempty"`
	Expires       *time.Time           `json:"expires"`
	ActiveServers int                  `json:"active_servers,omitempty"`
	MaxServers    int                  `json:"max_servers,omitempty"`
	Code          string               `json:"code,omitempty"`
	Message       string               `json:"message,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// NewValidateHandler returns an http.HandlerFunc for POST /api/license/validate.
func NewValidateHandler(v Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := decode(r, &req); err != nil {
			if errors.Is(err, errInvalidJSON) {
				writeDecodeError(w, err)
				return
			}
			var fields fieldErrors
			if errors.As(err, &fields) && onlyRequired(fields) {
				response.Status(w, http.StatusBadRequest, validateResponse{
					Code:    "MISSING_FIELDS",
					Message: "license_key and server_id are required",
				})
				return
			}
			writeDecodeError(w, err)
			return
		}

		ip := strings.TrimSpace(req.ServerIP)
		if ip == "" {
			ip = remoteIP(r)
		}

		res, err := v.Validate(r.Context(), license.ValidateRequest{
			LicenseKey:       req.LicenseKey,
			ServerID:         req.ServerID,
			ServerIP:         ip,
			ServerPort:       req.ServerPort,
			PluginVersion:    req.PluginVersion,
			MinecraftVersion: req.MinecraftVersion,
			OnlinePlayers:    req.OnlinePlayers,
			MaxPlayers:       req.MaxPlayers,
		})
		if err != nil {
			writeValidateError(w, r, err)
			return
		}

		response.JSON(w, validateOK{
			Valid:         true,
			Active:        true,
			Status:        res.Status,
			Owner:         res.Owner,
			Expires:       res.ExpiresAt,
			ActiveServers: res.ActiveServers,
			MaxServers:    res.MaxServers,
			Message:       "License is valid",
		})
	}
}

func writeValidateError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *license.Rejection
	switch {
	case errors.Is(err, license.ErrMissingFields):
		response.Status(w, http.StatusBadRequest, validateResponse{
			Code:    "MISSING_FIELDS",
			Message: "license_key and server_id are required",
		})
	case errors.Is(err, license.ErrNotFound):
		response.Status(w, http.StatusNotFound, validateResponse{
			Code:    "NOT_FOUND",
			Message: "License not found",
		})
	case errors.As(err, &rej):
		body := validateResponse{
			Status:        rej.Status,
			Reason:        rej.Reason,
			ActiveServers: rej.ActiveServers,
			MaxServers:    rej.MaxServers,
		}
		switch {
		case errors.Is(rej, license.ErrCapacityExceeded):
			body.Code = "CAPACITY_EXCEEDED"
			body.Message = "Maximum number of servers reached for this license"
		case errors.Is(rej, license.ErrExpired):
			body.Code = "EXPIRED"
			body.Message = "License has expired"
		default:
			body.Code = "INACTIVE"
			body.Message = "License is not active"
		}
		response.Status(w, http.StatusForbidden, body)
	default:
		writeServiceError(w, r, err)
	}
}

type checkRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

type checkResponse struct {
	Active  bool                 `json:"active"`
	Status  models.LicenseStatus `json:"status,omitempty"`
	Reason  *string              `json:"reason"`
	Expires *time.Time           `json:"expires"`
	Code    string               `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
}

// NewCheckHandler returns an http.HandlerFunc for POST /api/license/check.
func NewCheckHandler(c StatusChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if err := decode(r, &req); err != nil {
			if errors.Is(err, errInvalidJSON) {
				writeDecodeError(w, err)
				return
			}
			response.Status(w, http.StatusBadRequest, checkResponse{
				Code:    "MISSING_FIELDS",
				Message: "license_key is required",
			})
			return
		}

		rep, err := c.CheckStatus(r.Context(), req.LicenseKey)
		if err != nil {
			switch {
			case errors.Is(err, license.ErrMissingFields):
				response.Status(w, http.StatusBadRequest, checkResponse{
					Code:    "MISSING_FIELDS",
					Message: "license_key is required",
				})
			case errors.Is(err, license.ErrNotFound):
				response.Status(w, http.StatusNotFound, checkResponse{
					Code:    "NOT_FOUND",
					Message: "License not found",
				})
			default:
				writeServiceError(w, r, err)
			}
			return
		}

		response.JSON(w, checkResponse{
			Active:  rep.Active,
			Status:  rep.Status,
			Reason:  rep.Reason,
			Expires: rep.ExpiresAt,
		})
	}
}
