package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-restaurant/internal/analytics"
	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
	"ms-restaurant/internal/order"
	"ms-restaurant/internal/order/receipt"
	"ms-restaurant/internal/utils"
)

const receiptSize = 256

type Handler struct {
	OrderService *order.OrderService
	Receipts     *receipt.Generator
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, receipts *receipt.Generator, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Receipts:     receipts,
		Logger:       log,
	}
}

// RegisterRoutes mounts the order API. Every route expects auth.Middleware
// upstream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Delete("/", h.PurgeOrders)

		r.Route("/{orderId}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Put("/status", h.ChangeStatus)
			r.Put("/items/{itemId}/ready", h.ToggleItemReady)
			r.Post("/pay", h.MarkPaid)
			r.Get("/history", h.GetHistory)
			r.Get("/durations", h.GetDurations)
			r.Get("/transitions", h.GetTransitions)
			r.Get("/receipt.png", h.GetReceipt)
		})
	})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return models.Actor{}, false
	}
	return id.Actor(), true
}

// respondServiceError maps the order error taxonomy onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, receipt.ErrNotPaid):
		status = http.StatusConflict
	case errors.Is(err, order.ErrValidation):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.RespondError(w, status, "internal error")
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	utils.RespondError(w, status, err.Error())
}

// ---------------- ORDERS ----------------

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := h.OrderService.CreateOrder(r.Context(), actor, req)
	if err != nil {
		h.respondServiceError(w, "CreateOrder", err)
		return
	}
	utils.RespondSuccess(w, http.StatusCreated, "order created", created)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	o, err := h.OrderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "GetOrder", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "order", o)
}

// ListOrders → ?status=new,ready&waiterId=&unpaid=true. Waiters only ever
// see their own orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.OrderFilter{WaiterID: q.Get("waiterId")}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.Status(s))
			}
		}
	}
	if raw := q.Get("unpaid"); raw != "" {
		unpaid, err := strconv.ParseBool(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "unpaid must be a boolean")
			return
		}
		filter.Unpaid = unpaid
	}
	if actor.Role == models.RoleWaiter {
		filter.WaiterID = actor.UserID
	}

	orders, err := h.OrderService.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, "ListOrders", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "orders", orders)
}

type statusRequest struct {
	Status models.Status `json:"status"`
	Notes  string        `json:"notes,omitempty"`
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "orderId")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !req.Status.Valid() {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	res, err := h.OrderService.ChangeStatus(r.Context(), actor, orderID, req.Status, req.Notes)
	if err != nil {
		h.respondServiceError(w, "ChangeStatus", err)
		return
	}
	msg := "status unchanged"
	if res.Changed {
		msg = fmt.Sprintf("status changed from %s to %s", res.PreviousStatus, res.Order.Status)
	}
	utils.RespondSuccess(w, http.StatusOK, msg, res)
}

func (h *Handler) ToggleItemReady(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	res, err := h.OrderService.ToggleItemReady(r.Context(), actor, chi.URLParam(r, "orderId"), chi.URLParam(r, "itemId"))
	if err != nil {
		h.respondServiceError(w, "ToggleItemReady", err)
		return
	}
	msg := "item updated"
	if res.OrderTransitioned {
		msg = "item updated, order ready"
	}
	utils.RespondSuccess(w, http.StatusOK, msg, res)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	res, err := h.OrderService.MarkPaid(r.Context(), actor, chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "MarkPaid", err)
		return
	}
	msg := "order paid"
	if !res.Changed {
		msg = "order already paid"
	}
	utils.RespondSuccess(w, http.StatusOK, msg, res)
}

// PurgeOrders → DELETE /api/orders?before=RFC3339, admins only.
func (h *Handler) PurgeOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("before")
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "before must be RFC3339")
		return
	}

	n, err := h.OrderService.PurgeOrders(r.Context(), actor, before)
	if err != nil {
		h.respondServiceError(w, "PurgeOrders", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "orders purged", map[string]int{"purged": n})
}

// ---------------- LEDGER ----------------

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	entries, err := h.OrderService.History(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "GetHistory", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "history", entries)
}

// GetDurations → time spent in every status so far. The current status is
// measured up to now.
func (h *Handler) GetDurations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	entries, err := h.OrderService.History(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "GetDurations", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "durations", analytics.TimeInStatus(entries, time.Now().UTC()))
}

// GetTransitions → statuses the caller may move the order to right now.
func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	o, err := h.OrderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "GetTransitions", err)
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "transitions", map[string]any{
		"status":  o.Status,
		"allowed": order.AllowedTargets(actor, o),
	})
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	o, err := h.OrderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondServiceError(w, "GetReceipt", err)
		return
	}
	png, err := h.Receipts.PNG(o, receiptSize)
	if err != nil {
		h.respondServiceError(w, "GetReceipt", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
