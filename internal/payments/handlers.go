// internal/payments/handlers.go
package payments

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/temmyjay001/payments-core/internal/gateway"
	"github.com/temmyjay001/payments-core/internal/splits"
	"github.com/temmyjay001/payments-core/pkg/api"
	cV "github.com/temmyjay001/payments-core/pkg/validator"
)

type Handlers struct {
	service   *Service
	validator *validator.Validate
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{
		service:   service,
		validator: cV.GetValidator(),
	}
}

func (h *Handlers) CreateCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	response, err := h.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusCreated, response)
}

func (h *Handlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	response, err := h.service.CreatePayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusCreated, response)
}

func (h *Handlers) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	response, err := h.service.CreateSubscription(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusCreated, response)
}

func (h *Handlers) TokenizeCardHandler(w http.ResponseWriter, r *http.Request) {
	var req TokenizeCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	response, err := h.service.TokenizeCard(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusCreated, response)
}

func (h *Handlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "paymentRef")

	response, err := h.service.GetPayment(r.Context(), ref)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			api.WriteNotFoundResponse(w, "payment not found")
			return
		}
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, response)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.WriteBadRequestResponse(w, "invalid JSON payload")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		api.WriteValidationErrorResponse(w, err)
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, splits.ErrUnknownCategory), errors.Is(err, splits.ErrNegativeAmount), errors.Is(err, splits.ErrAmountOutOfRange):
		api.WriteBadRequestResponse(w, err.Error())
		return
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		api.WriteErrorResponse(w, gateway.HTTPStatus(err), gwErr.Message())
		return
	}
	api.WriteInternalErrorResponse(w, err.Error())
}
