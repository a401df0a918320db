package handler

import (
	"net/http"

	"bikeshop/internal/model"
	"bikeshop/internal/service"

	"github.com/rs/zerolog"
)

// CounterSaleHandler serves the back-office counter sale endpoints.
type CounterSaleHandler struct {
	service service.CounterSaleService
	logger  zerolog.Logger
}

// NewCounterSaleHandler creates a new counter sale handler.
func NewCounterSaleHandler(service service.CounterSaleService, logger zerolog.Logger) *CounterSaleHandler {
	return &CounterSaleHandler{
		service: service,
		logger:  logger.With().Str("handler", "counter_sale").Logger(),
	}
}

// Create handles POST /api/admin/counter-sales requests.
func (h *CounterSaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CounterSaleRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	sale, err := h.service.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, sale)
}

// List handles GET /api/admin/counter-sales?status= requests.
func (h *CounterSaleHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	filter := model.SaleFilter{Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.SaleStatus(s)
		filter.Status = &status
	}

	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sales)
}

// Get handles GET /api/admin/counter-sales/{id} requests.
func (h *CounterSaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathUUID(r, "id")
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	sale, err := h.service.GetByID(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sale)
}

// RecordPayment handles POST /api/admin/counter-sales/{id}/payments requests.
func (h *CounterSaleHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathUUID(r, "id")
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	var req model.PaymentRequest
	if err := decodeStrict(w, r, &req); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp, err := h.service.RecordPayment(r.Context(), saleID, &req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/admin/counter-sales/{id}/cancel requests.
func (h *CounterSaleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathUUID(r, "id")
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	sale, err := h.service.Cancel(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sale)
}
