package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

// OrderHandlers exposes order line reads for the owning shopper and staff.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	localizer *selection.Localizer
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, localizer *selection.Localizer) *OrderHandlers {
	if localizer == nil {
		localizer = selection.NewLocalizer()
	}
	return &OrderHandlers{authn: authn, orders: orders, localizer: localizer}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{orderId}/lines", h.listLines)
}

type orderLinePayload struct {
	ID        string               `json:"id"`
	OrderID   string               `json:"order_id"`
	ProductID string               `json:"product_id,omitempty"`
	Quantity  int                  `json:"quantity"`
	Meta      map[string]string    `json:"meta,omitempty"`
	Display   *displayEntryPayload `json:"display,omitempty"`
	CreatedAt string               `json:"created_at,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

type orderLinesResponse struct {
	OrderID string             `json:"order_id"`
	Lines   []orderLinePayload `json:"lines"`
}

func (h *OrderHandlers) listLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	_, locale := resolveLocale(r, h.localizer)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))

	lines, err := h.orders.ListLines(ctx, services.ListOrderLinesCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		IsStaff: identity.IsStaff(),
		Locale:  locale,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderLinesResponse{OrderID: orderID, Lines: make([]orderLinePayload, 0, len(lines))}
	for _, line := range lines {
		payload.Lines = append(payload.Lines, buildOrderLinePayload(line))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func buildOrderLinePayload(line services.OrderLine) orderLinePayload {
	payload := orderLinePayload{
		ID:        line.Item.ID,
		OrderID:   line.Item.OrderID,
		ProductID: line.Item.ProductID,
		Quantity:  line.Item.Quantity,
		Display:   displayToPayload(line.Display),
	}
	if len(line.Item.Meta) > 0 {
		payload.Meta = make(map[string]string, len(line.Item.Meta))
		for key, value := range line.Item.Meta {
			payload.Meta[key] = value
		}
	}
	if !line.Item.CreatedAt.IsZero() {
		payload.CreatedAt = line.Item.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !line.Item.UpdatedAt.IsZero() {
		payload.UpdatedAt = line.Item.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order line changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
