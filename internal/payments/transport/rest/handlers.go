package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/webshop-labs/orderflow/internal/payments/domain"
	"github.com/webshop-labs/orderflow/internal/payments/service"
	appCtx "github.com/webshop-labs/orderflow/internal/pkg/context"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

var validate = validator.New()

type Handler struct {
	svc        *service.PaymentService
	instanceID string
}

func NewHandler(svc *service.PaymentService, instanceID string) *Handler {
	return &Handler{svc: svc, instanceID: instanceID}
}

type topUpRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type balanceResponse struct {
	UserID   int64   `json:"user_id"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
	}
}

// CreateAccount opens the caller's account. One per user.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	acct, err := h.svc.CreateAccount(r.Context(), userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	var req topUpRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", validationMeta(err))
		return
	}

	acct, err := h.svc.TopUp(r.Context(), userID, req.Amount)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	acct, err := h.svc.GetAccount(r.Context(), userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := appCtx.GetUserID(r.Context())
	if !ok {
		fail(w, r, http.StatusBadRequest, "user_id.required", "Header 'X-User-ID' is required for this operation", nil)
		return
	}

	acct, err := h.svc.GetAccount(r.Context(), userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, balanceResponse{
		UserID:   acct.UserID,
		Balance:  acct.Balance,
		Currency: "RUB",
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		fail(w, r, http.StatusServiceUnavailable, "health.db", err.Error(), nil)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"service":     "payments",
		"instance_id": h.instanceID,
	})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountExists):
		fail(w, r, http.StatusBadRequest, "account.exists", "Account already exists", nil)
	case errors.Is(err, domain.ErrAccountNotFound):
		fail(w, r, http.StatusNotFound, "account.not_found", "Account not found", nil)
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
