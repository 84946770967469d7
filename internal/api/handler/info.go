package handler

import (
	"net/http"

	"github.com/kiranshivaraju/licensegate/internal/api/response"
)

type infoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// NewRootHandler returns an http.HandlerFunc for GET / describing the service.
func NewRootHandler(name, version string) http.HandlerFunc {
	body := infoResponse{Name: name, Version: version, Status: "running"}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, body)
	}
}
