package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/webshop-labs/orderflow/internal/metrics"
	"github.com/webshop-labs/orderflow/internal/realtime"
	"github.com/webshop-labs/orderflow/internal/transport/middleware"
)

type RouterDeps struct {
	Handler *Handler
	WS      *realtime.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.WS == nil {
		panic("rest.NewRouter: nil ws handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(middleware.RequestID)
	r.Use(middleware.HTTPLogger)

	// Panic recovery
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUserID)

		r.Post("/orders", d.Handler.CreateOrder)
		r.Get("/orders", d.Handler.ListOrders)
		r.Get("/orders/{orderID}", d.Handler.GetOrder)
	})

	r.Get("/ws/{user_id}", d.WS.ServeWS)

	r.Get("/health", d.Handler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	return r
}
