// Package api exposes the reconciliation service over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/ofx"
)

// Identity headers set by the upstream identity provider.
const (
	HeaderUserID         = "X-User-ID"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderPermissions    = "X-Permissions"
)

// maxBodyBytes caps request bodies, statement uploads included.
const maxBodyBytes = 32 << 20

type handler struct {
	svc    *app.Service
	ofx    *ofx.Parser
	logger *slog.Logger
}

// NewRouter creates the HTTP handler. timeout bounds every request.
func NewRouter(svc *app.Service, timeout time.Duration) http.Handler {
	h := &handler{
		svc:    svc,
		ofx:    ofx.NewParser(),
		logger: slog.Default().With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.createAccount)
			r.Get("/", h.listAccounts)
			r.Get("/{id}", h.getAccount)
			r.Post("/{id}/statements", h.importStatement)
			r.Post("/{id}/statements/ofx", h.importOFX)
		})

		r.Route("/reconciliations", func(r chi.Router) {
			r.Post("/", h.reconcile)
			r.Get("/", h.history)
			r.Get("/{id}", h.session)
			r.Get("/{id}/matches", h.sessionMatches)
		})

		r.Get("/statements/{id}/explain", h.explain)

		r.Get("/matches", h.listMatches)
		r.Patch("/matches/{id}", h.updateMatch)

		r.Get("/analytics", h.analytics)
		r.Post("/rules", h.createRule)

		r.Delete("/cache", h.clearCache)
		r.Get("/cache/stats", h.cacheStats)
		r.Get("/metrics", h.metrics)
	})

	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// requestContext reads the caller's identity from the headers.
func requestContext(r *http.Request) app.RequestContext {
	var perms []string
	for _, p := range strings.Split(r.Header.Get(HeaderPermissions), ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return app.RequestContext{
		User: model.User{
			ID:             r.Header.Get(HeaderUserID),
			OrganizationID: r.Header.Get(HeaderOrganizationID),
			Permissions:    perms,
		},
		RequestID: middleware.GetReqID(r.Context()),
	}
}
