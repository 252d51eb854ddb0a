package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/webshop-labs/orderflow/internal/metrics"
	"github.com/webshop-labs/orderflow/internal/transport/middleware"
)

type RouterDeps struct {
	Handler *Handler
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(middleware.RequestID)
	r.Use(middleware.HTTPLogger)

	// Panic recovery
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUserID)

		r.Post("/accounts", d.Handler.CreateAccount)
		r.Post("/accounts/topup", d.Handler.TopUp)
		r.Get("/accounts", d.Handler.GetAccount)
		r.Get("/accounts/balance", d.Handler.GetBalance)
	})

	r.Get("/health", d.Handler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	return r
}
