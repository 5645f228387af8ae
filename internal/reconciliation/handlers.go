package reconciliation

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/temmyjay001/payments-core/internal/gateway"
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

// RunBatchHandler reconciles by explicit refs or by date window. An empty
// body means the default lookback window.
func (h *Handlers) RunBatchHandler(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil && !errors.Is(err, io.EOF) {
		api.WriteBadRequestResponse(w, "invalid JSON payload")
		return
	}

	if err := h.validator.Struct(filter); err != nil {
		api.WriteValidationErrorResponse(w, err)
		return
	}

	stats, err := h.service.ReconcileBatch(r.Context(), filter)
	if err != nil {
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, stats)
}

func (h *Handlers) ReconcilePaymentHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "paymentRef"))
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			api.WriteErrorResponse(w, gateway.HTTPStatus(err), gwErr.Message())
			return
		}
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, result)
}

func (h *Handlers) LatestResultHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LatestResult(r.Context(), chi.URLParam(r, "paymentRef"))
	if err != nil {
		if errors.Is(err, ErrResultNotFound) {
			api.WriteNotFoundResponse(w, "payment has not been reconciled")
			return
		}
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, result)
}
