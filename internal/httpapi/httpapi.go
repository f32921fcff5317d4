package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/eligibility"
	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store"
)

const userIDHeader = "x-user-id"

type Handler struct {
	svc *service.Service
	log *zap.SugaredLogger
}

func NewHandler(svc *service.Service, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, log: log}
}

func NewRouter(h *Handler, allowedOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userIDHeader},
		MaxAge:         300,
	}))
	r.Use(h.withCashier)

	r.Get("/healthz", h.health)

	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.createSale)
		r.Get("/", h.listSales)
		r.Get("/{id}", h.getSale)
	})

	r.Route("/exchanges", func(r chi.Router) {
		r.Post("/", h.createExchange)
		r.Get("/", h.listExchanges)
		r.Get("/{id}", h.getExchange)
		r.Post("/{id}/cancel", h.cancelExchange)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (h *Handler) withCashier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cashierID := r.Header.Get(userIDHeader); cashierID != "" {
			r = r.WithContext(service.WithCashier(r.Context(), cashierID))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sale, err := h.svc.CreateSale(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "sale": sale})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.svc.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sale": sale})
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		StoreID:             q.Get("store_id"),
		BusinessID:          q.Get("business_id"),
		CashierID:           q.Get("cashier_id"),
		CustomerID:          q.Get("customer_id"),
		Status:              q.Get("status"),
		StartDate:           parseDate(q.Get("start_date")),
		EndDate:             parseDate(q.Get("end_date")),
		IncludeSupplyOrders: q.Get("include_supply_orders") == "true",
		Limit:               parsePositiveInt(q.Get("limit"), 100),
		Offset:              parsePositiveInt(q.Get("offset"), 0),
	}

	records, pagination, err := h.svc.ListSales(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	sales := make([]any, 0, len(records))
	for _, record := range records {
		if record.SupplyOrder != nil {
			sales = append(sales, record.SupplyOrder)
		} else {
			sales = append(sales, record.Sale)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sales": sales, "pagination": pagination})
}

func (h *Handler) createExchange(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(userIDHeader) == "" {
		h.writeError(w, http.StatusBadRequest, "user identification required")
		return
	}

	var req domain.ExchangeCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exchange, err := h.svc.CreateExchange(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"transaction": exchange,
		"message":     "exchange transaction created",
	})
}

func (h *Handler) getExchange(w http.ResponseWriter, r *http.Request) {
	exchange, err := h.svc.GetExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transaction": exchange})
}

func (h *Handler) listExchanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ExchangeFilter{
		StoreID:         q.Get("store_id"),
		CustomerID:      q.Get("customer_id"),
		TransactionType: q.Get("transaction_type"),
		Status:          q.Get("status"),
		StartDate:       parseDate(q.Get("start_date")),
		EndDate:         parseDate(q.Get("end_date")),
		Limit:           parsePositiveInt(q.Get("limit"), 50),
		Offset:          parsePositiveInt(q.Get("offset"), 0),
	}

	exchanges, pagination, err := h.svc.ListExchanges(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactions": exchanges, "pagination": pagination})
}

func (h *Handler) cancelExchange(w http.ResponseWriter, r *http.Request) {
	exchange, err := h.svc.CancelExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transaction": exchange})
}

// writeServiceError maps domain errors onto HTTP statuses. Eligibility
// rejections surface their cashier-facing message verbatim; internal errors
// are masked and logged.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var notFound *eligibility.SaleItemNotFoundError
	var quantity *eligibility.QuantityError

	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eligibility.ErrAllItemsReturned):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		h.writeError(w, http.StatusBadRequest, notFound.Error())
	case errors.As(err, &quantity):
		h.writeError(w, http.StatusBadRequest, quantity.Error())
	case errors.Is(err, store.ErrDuplicateNumber):
		h.writeError(w, http.StatusConflict, "transaction number already in use")
	default:
		h.log.Errorw("internal error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	return nil
}
