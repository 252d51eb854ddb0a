package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/webshop-labs/orderflow/internal/orders/domain"
	"github.com/webshop-labs/orderflow/internal/orders/service"
	appCtx "github.com/webshop-labs/orderflow/internal/pkg/context"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

var validate = validator.New()

type Handler struct {
	svc        *service.OrderService
	instanceID string
}

func NewHandler(svc *service.OrderService, instanceID string) *Handler {
	return &Handler{svc: svc, instanceID: instanceID}
}

type createOrderRequest struct {
	Amount      float64 `json:"amount" validate:"gt=0"`
	Description *string `json:"description"`
}

type orderResponse struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Amount      float64   `json:"amount"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Amount:      o.Amount,
		Description: o.Description,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	var req createOrderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", validationMeta(err))
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid order id", nil)
		return
	}

	order, err := h.svc.GetOrder(r.Context(), orderID, userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		fail(w, r, http.StatusServiceUnavailable, "health.db", err.Error(), nil)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"service":     "orders",
		"instance_id": h.instanceID,
	})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		fail(w, r, http.StatusNotFound, "order.not_found", err.Error(), nil)
	default:
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func validationMeta(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	meta := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "gt":
			meta[fe.Field()] = "must be greater than " + fe.Param()
		case "required":
			meta[fe.Field()] = "is required"
		default:
			meta[fe.Field()] = "is invalid"
		}
	}
	return meta
}
