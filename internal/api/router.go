package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/licensegate/internal/api/middleware"
	"github.com/kiranshivaraju/licensegate/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	AdminAuth *mw.AdminAuth

	RootHandler    http.HandlerFunc
	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	GenerateKeyHandler   http.HandlerFunc
	VerifyHandler        http.HandlerFunc
	ListKeysHandler      http.HandlerFunc
	ActivateKeyHandler   http.HandlerFunc
	DeactivateKeyHandler http.HandlerFunc
	DeleteKeyHandler     http.HandlerFunc

	ValidateHandler http.HandlerFunc
	CheckHandler    http.HandlerFunc

	AdminCreateHandler   http.HandlerFunc
	AdminDisableHandler  http.HandlerFunc
	AdminActivateHandler http.HandlerFunc
	AdminListHandler     http.HandlerFunc
	AdminGetHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Key management
	r.Get("/api/generate-key", orNotImplemented(deps.GenerateKeyHandler))
	r.Post("/api/verify", orNotImplemented(deps.VerifyHandler))
	r.Get("/api/licenses", orNotImplemented(deps.ListKeysHandler))
	r.Post("/api/activate", orNotImplemented(deps.ActivateKeyHandler))
	r.Post("/api/deactivate", orNotImplemented(deps.DeactivateKeyHandler))
	r.Delete("/api/licenses/{key}", orNotImplemented(deps.DeleteKeyHandler))

	// Plugin-facing
	r.Post("/api/license/validate", orNotImplemented(deps.ValidateHandler))
	r.Post("/api/license/check", orNotImplemented(deps.CheckHandler))

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(deps.AdminAuth.Require)

		r.Post("/api/admin/license/create", orNotImplemented(deps.AdminCreateHandler))
		r.Post("/api/admin/license/disable", orNotImplemented(deps.AdminDisableHandler))
		r.Post("/api/admin/license/activate", orNotImplemented(deps.AdminActivateHandler))
		r.Get("/api/admin/licenses", orNotImplemented(deps.AdminListHandler))
		r.Get("/api/admin/licenses/{key}", orNotImplemented(deps.AdminGetHandler))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
