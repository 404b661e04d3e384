// Package httpapi exposes the shop ledger over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
)

type API struct {
	svc *service.Service
	log *logrus.Logger
}

func New(svc *service.Service, log *logrus.Logger) *API {
	if log == nil {
		log = logrus.New()
	}
	return &API{svc: svc, log: log}
}

func (a *API) Router(allowedOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Post("/", a.handleCreateProduct)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetProduct)
				r.Patch("/", a.handleUpdateProduct)
				r.Delete("/", a.handleDeleteProduct)
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", a.handleListTransactions)
			r.Post("/", a.handleRecordTransaction)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetTransaction)
				r.Post("/reverse", a.handleReverseTransaction)
				r.Patch("/amount-paid", a.handleAmendAmountPaid)
			})
		})

		r.Get("/customers", a.handleListCustomers)

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", a.handleLedgerEntries)
			r.Get("/balance", a.handleBalance)
			r.Get("/adjustments", a.handleListAdjustments)
			r.Post("/adjustments", a.handleCreateAdjustment)
		})

		r.Post("/bills", a.handleSubmitBill)

		r.Get("/insights/sales", a.handleSalesInsights)
		r.Get("/insights/stock", a.handleStockOverview)

		r.Get("/audit-logs", a.handleListAuditLogs)
	})

	return r
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.svc.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.svc.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.svc.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.svc.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.svc.DeleteProduct(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := store.TransactionFilter{
		IncludeReversed: r.URL.Query().Get("include_reversed") == "true",
		Limit:           parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000),
	}
	if v := strings.TrimSpace(r.URL.Query().Get("person_name")); v != "" {
		filter.PersonName = &v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("contact")); v != "" {
		filter.Contact = &v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("product_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid product_id"))
			return
		}
		filter.ProductID = &id
	}

	txs, err := a.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.svc.RecordTransaction(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.svc.GetTransaction(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.svc.ReverseTransaction(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleAmendAmountPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.AmendAmountPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.svc.AmendAmountPaid(r.Context(), id, req.AmountPaid)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.svc.ListCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.LedgerEntries(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger": entries})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	person := r.URL.Query().Get("person_name")
	contact := r.URL.Query().Get("contact")
	balance, err := a.svc.ComputeBalance(r.Context(), person, contact)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (a *API) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	person := r.URL.Query().Get("person_name")
	contact := r.URL.Query().Get("contact")
	adjs, err := a.svc.ListLedgerAdjustments(r.Context(), person, contact)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjs})
}

func (a *API) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.LedgerAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	adj, err := a.svc.AddLedgerAdjustment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adj})
}

type billSubmitRequest struct {
	domain.BillRequest
	// LastSubmission is the submission value returned by the previous
	// successful bill in the caller's session, used for the duplicate window.
	LastSubmission *billing.Submission `json:"last_submission,omitempty"`
}

func (a *API) handleSubmitBill(w http.ResponseWriter, r *http.Request) {
	var req billSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, submission, err := a.svc.SubmitBill(r.Context(), req.BillRequest, req.LastSubmission)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"receipt":    receipt,
		"submission": submission,
	})
}

func (a *API) handleSalesInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := a.svc.SalesInsights(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (a *API) handleStockOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.svc.StockOverview(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (a *API) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.svc.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// writeServiceError maps service errors onto HTTP statuses via the sentinel
// taxonomy.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInsufficientStock):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrAlreadyReversed), errors.Is(err, store.ErrInvalidReversal):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrDuplicateSubmission):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		a.log.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
