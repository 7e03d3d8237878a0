package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/OrderDesk/internal/services/costing"
	"github.com/BearBump/OrderDesk/internal/services/orders"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/BearBump/OrderDesk/internal/services/returns"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Engine  *reconcile.Engine
	Returns *returns.Service
	Costing *costing.Service
	Orders  *orders.Service

	// SwaggerPath is served as /swagger.json when set.
	SwaggerPath string

	// Лимит на дорогие ручки (sweep, фиксация счёта), запросов в минуту с одного IP.
	HeavyRequestsPerMinute int
}

type Handler struct {
	engine   *reconcile.Engine
	returns  *returns.Service
	costing  *costing.Service
	orders   *orders.Service
	validate *validator.Validate

	swaggerPath string
	heavyLimit  int
	now         func() time.Time
}

func New(d Deps) *Handler {
	limit := d.HeavyRequestsPerMinute
	if limit <= 0 {
		limit = 10
	}
	return &Handler{
		engine:      d.Engine,
		returns:     d.Returns,
		costing:     d.Costing,
		orders:      d.Orders,
		validate:    validator.New(),
		swaggerPath: d.SwaggerPath,
		heavyLimit:  limit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Routes builds the public router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if h.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, h.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	// У каждой ручки свой счётчик.
	heavy := func() func(http.Handler) http.Handler {
		return httprate.Limit(h.heavyLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.With(heavy()).Post("/sweep", h.sweep)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Get("/events", h.listEvents)
				r.Post("/poll", h.pollOrder)
				r.Post("/delivery", h.startDelivery)
				r.Post("/return", h.startReturn)
				r.Post("/return/complete", h.completeReturn)
			})
		})

		r.Post("/invoices/preview", h.previewInvoice)
		r.With(heavy()).Post("/invoices", h.commitInvoice)
		r.Post("/purchases", h.recordPurchase)
	})

	return r
}

// SwaggerAvailable reports whether the configured swagger file exists.
func SwaggerAvailable(path string) error {
	if path == "" {
		return fmt.Errorf("swagger path is empty")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", path)
	}
	return nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "ids query parameter is required", "invalid_id")
		return
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid Request", fmt.Sprintf("bad order id %q", p), "invalid_id")
			return
		}
		ids = append(ids, id)
	}

	out, err := h.orders.GetOrders(r.Context(), ids)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: out})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	evs, err := h.orders.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs})
}

func (h *Handler) pollOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	tr, err := h.engine.PollOne(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if tr.Changed {
		h.orders.Invalidate(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, tr)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.SweepInTransit(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	ids := make([]int64, 0, len(rep.Changes))
	for _, tr := range rep.Changes {
		ids = append(ids, tr.OrderID)
	}
	h.orders.Invalidate(r.Context(), ids...)
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) startDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.engine.StartDelivery(r.Context(), req.toInput(id))
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.orders.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) startReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.returns.StartReturn(r.Context(), req.toInput(id))
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.orders.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) completeReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req completeReturnRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	res, err := h.returns.CompleteReturn(r.Context(), id, req.Note)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.orders.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) previewInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.costing.PriceInvoiceBatch(r.Context(), req.OrderIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) commitInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.costing.CommitInvoiceBatch(r.Context(), req.OrderIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.orders.Invalidate(r.Context(), inv.OrderIDs...)
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) recordPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := h.costing.RecordPurchase(r.Context(), req.toInput(h.now()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", "invalid_json")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, r, err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", "invalid_json")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, r, err)
		return false
	}
	return true
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", fmt.Sprintf("bad order id %q", raw), "invalid_id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
