package middleware

import (
	"net/http"
	"strconv"
	"strings"

	appCtx "github.com/webshop-labs/orderflow/internal/pkg/context"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

const userIDHeader = "X-User-ID"

// RequireUserID extracts the caller id from X-User-ID. The header is trusted
// (no authentication in front of it); absent or non-positive values are a 400.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(userIDHeader))
		if raw == "" {
			fail(w, r, "user_id.required", "Header 'X-User-ID' is required for this operation")
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			fail(w, r, "user_id.invalid", "Invalid User ID")
			return
		}

		ctx := appCtx.WithUserID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func fail(w http.ResponseWriter, r *http.Request, code, message string) {
	reqID := appCtx.GetRequestID(r.Context())
	response.Fail(w, http.StatusBadRequest, code, message, nil, reqID)
}
