package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/webshop-labs/orderflow/internal/realtime"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

// backendHealth is one entry in the /health/all report.
type backendHealth struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// HealthHandler answers the gateway's own probe and fans /health/all out to
// every configured backend instance.
type HealthHandler struct {
	ordersURLs  []string
	paymentsURL string
	hub         *realtime.Hub
	redisUp     bool
	client      *http.Client
	started     time.Time
}

func NewHealthHandler(ordersURLs []string, paymentsURL string, hub *realtime.Hub, redisUp bool, timeout time.Duration) *HealthHandler {
	return &HealthHandler{
		ordersURLs:  ordersURLs,
		paymentsURL: paymentsURL,
		hub:         hub,
		redisUp:     redisUp,
		client:      &http.Client{Timeout: timeout},
		started:     time.Now(),
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":                "healthy",
		"service":               "api-gateway",
		"timestamp":             time.Since(h.started).Seconds(),
		"websocket_connections": h.hub.Connections(),
		"redis_connected":       h.redisUp,
	})
}

// HealthAll probes every backend in parallel and reports each one as
// healthy, unhealthy with the upstream status, or unreachable.
func (h *HealthHandler) HealthAll(w http.ResponseWriter, r *http.Request) {
	type probe struct {
		name string
		url  string
	}

	probes := make([]probe, 0, len(h.ordersURLs)+1)
	for i, base := range h.ordersURLs {
		probes = append(probes, probe{fmt.Sprintf("orders_%d", i+1), base + "/health"})
	}
	probes = append(probes, probe{"payments", h.paymentsURL + "/health"})

	services := make(map[string]backendHealth, len(probes)+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pr := range probes {
		wg.Add(1)
		go func(pr probe) {
			defer wg.Done()
			entry := h.check(r, pr.url)
			mu.Lock()
			services[pr.name] = entry
			mu.Unlock()
		}(pr)
	}
	wg.Wait()

	services["api-gateway"] = backendHealth{Status: "healthy"}

	response.JSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Since(h.started).Seconds(),
		"services":  services,
	})
}

func (h *HealthHandler) check(r *http.Request, url string) backendHealth {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return backendHealth{Status: "unreachable", Error: err.Error()}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return backendHealth{Status: "unreachable", Error: err.Error()}
	}
	defer resp.Body.Close()

	entry := backendHealth{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		entry.Status = "healthy"
	} else {
		entry.Status = "unhealthy: " + strconv.Itoa(resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		entry.Data = body
	}
	return entry
}
