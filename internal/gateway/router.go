package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/webshop-labs/orderflow/internal/metrics"
	"github.com/webshop-labs/orderflow/internal/realtime"
	"github.com/webshop-labs/orderflow/internal/transport/middleware"
)

type RouterDeps struct {
	Proxy  *Proxy
	Health *HealthHandler
	WS     *realtime.Handler

	// Per-IP rate limit on proxied traffic. Zero disables it.
	RLLimit  int
	RLWindow time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Proxy == nil {
		panic("gateway.NewRouter: nil proxy")
	}
	if d.Health == nil {
		panic("gateway.NewRouter: nil health handler")
	}
	if d.WS == nil {
		panic("gateway.NewRouter: nil ws handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(middleware.RequestID)
	r.Use(middleware.HTTPLogger)

	// Panic recovery
	r.Use(chimw.Recoverer)

	// Proxied traffic is rate limited; health probes and sockets are not.
	r.Route("/api/{service}", func(r chi.Router) {
		if d.RLLimit > 0 {
			r.Use(httprate.LimitByIP(d.RLLimit, d.RLWindow))
		}
		r.Use(middleware.RequireUserID)
		r.HandleFunc("/*", d.Proxy.Forward)
	})

	r.Get("/ws/{user_id}", d.WS.ServeWS)

	r.Get("/health", d.Health.Health)
	r.Get("/health/all", d.Health.HealthAll)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	return r
}
