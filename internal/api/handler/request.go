package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/license"
)

const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errInvalidJSON = errors.New("invalid JSON body")

// fieldErrors maps JSON field names to the failed validation tag.
type fieldErrors map[string]string

func (f fieldErrors) Error() string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return "invalid fields: " + strings.Join(names, ", ")
}

// decode reads a JSON body into dst and runs struct validation. An empty
// body decodes as {} so that missing required fields are reported as such.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := fieldErrors{}
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return fields
	}
	return nil
}

// writeDecodeError answers a decode failure with 400.
func writeDecodeError(w http.ResponseWriter, err error) {
	var fields fieldErrors
	if errors.As(err, &fields) {
		if onlyRequired(fields) {
			response.Error(w, http.StatusBadRequest, "MISSING_FIELDS", "Missing required fields", fields)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request fields", fields)
		return
	}
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
}

func onlyRequired(fields fieldErrors) bool {
	for _, tag := range fields {
		if tag != "required" {
			return false
		}
	}
	return true
}

// writeServiceError maps license package errors to HTTP responses. Storage
// failures are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, license.ErrMissingFields):
		response.Error(w, http.StatusBadRequest, "MISSING_FIELDS", "license_key is required", nil)
	case errors.Is(err, license.ErrInvalidMaxServers):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, license.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "License not found", nil)
	case errors.Is(err, license.ErrConflict):
		response.Error(w, http.StatusConflict, "LICENSE_EXISTS", "License key already exists", nil)
	case errors.Is(err, license.ErrExpired):
		response.Error(w, http.StatusConflict, "LICENSE_EXPIRED", "License has expired and cannot be changed", nil)
	default:
		slog.Error("license operation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// remoteIP returns the caller address without its port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
