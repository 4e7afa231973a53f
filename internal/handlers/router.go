package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roadwatch/internal/auth"
	"roadwatch/internal/engine"
)

// NewRouter wires every route. Long-lived socket and stream routes sit
// outside the request timeout.
func NewRouter(eng *engine.Engine, authn *auth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	NewSocketHandler(eng, authn).RegisterRoutes(r)
	NewStreamHandler(eng, authn).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		NewHomeHandler(eng, authn.AllowAnonymous()).RegisterRoutes(r)
		NewAPIHandler(eng, authn).RegisterRoutes(r)
	})
	return r
}
