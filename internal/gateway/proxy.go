package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
	appCtx "github.com/webshop-labs/orderflow/internal/pkg/context"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

var (
	ErrTimeout     = errors.New("backend timeout")
	ErrUnavailable = errors.New("backend unavailable")
)

// serviceNames is what the 404 detail advertises, in routing-table order.
var serviceNames = []string{"orders", "payments"}

// Proxy forwards /api/{service}/* to the backing services. Orders runs
// several instances; a user's requests stick to one of them (user_id mod N)
// so their websocket and their writes land on the same process.
type Proxy struct {
	ordersURLs  []string
	paymentsURL string
	client      *http.Client
}

func NewProxy(ordersURLs []string, paymentsURL string, timeout time.Duration) *Proxy {
	return &Proxy{
		ordersURLs:  ordersURLs,
		paymentsURL: paymentsURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// resolve picks the backend base URL for one request.
func (p *Proxy) resolve(service string, userID int64) (string, bool) {
	switch service {
	case "orders":
		if len(p.ordersURLs) == 0 {
			return "", false
		}
		return p.ordersURLs[userID%int64(len(p.ordersURLs))], true
	case "payments":
		return p.paymentsURL, true
	default:
		return "", false
	}
}

// Forward streams one request to its backend and relays the reply. The
// X-User-ID header has already been validated by the router middleware.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		detail(w, http.StatusBadRequest, "Header 'X-User-ID' is required for this operation")
		return
	}

	service := chi.URLParam(r, "service")
	base, ok := p.resolve(service, userID)
	if !ok {
		detail(w, http.StatusNotFound,
			fmt.Sprintf("Service '%s' not found. Available services: %v", service, serviceNames))
		return
	}

	target := base + "/" + strings.TrimLeft(chi.URLParam(r, "*"), "/")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	start := time.Now()
	log := logger.WithCtx(r.Context()).With().
		Str("service", service).
		Str("target", target).
		Int64("user_id", userID).
		Logger()
	log.Info().Str("method", r.Method).Msg("proxying")

	status, err := p.forward(w, r, target)
	if err != nil {
		switch {
		case errors.Is(err, ErrTimeout):
			status = http.StatusGatewayTimeout
			detail(w, status, "Service timeout")
		case errors.Is(err, ErrUnavailable):
			status = http.StatusServiceUnavailable
			detail(w, status, "Service unavailable")
		default:
			status = http.StatusInternalServerError
			detail(w, status, "Internal server error: "+err.Error())
		}
		log.Warn().Err(err).Int("status", status).Msg("proxy failed")
	}
	metrics.RecordProxyRequest(service, strconv.Itoa(status), time.Since(start))
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, target string) (int, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	copyRequestHeaders(req.Header, r.Header)
	req.Header.Set("X-Forwarded-For", clientIP(r))
	req.Header.Set("X-Original-Path", r.URL.RequestURI())

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, mapTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, mapTransportError(err)
	}
	// backends speak JSON; anything else is flattened to an empty object
	if !json.Valid(raw) || len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)
	return resp.StatusCode, nil
}

func mapTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrUnavailable
	}
	return err
}

// copyRequestHeaders forwards everything except Host (carried on the URL),
// hop-by-hop fields and Accept-Encoding, which the transport negotiates
// itself so replies come back decoded.
func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Host", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Accept-Encoding", "Content-Length":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Content-Length", "Content-Type", "Content-Encoding":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// detail writes the proxy error body: {"detail": "..."}.
func detail(w http.ResponseWriter, status int, msg string) {
	response.JSON(w, status, map[string]string{"detail": msg})
}
