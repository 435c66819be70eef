package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/platform/requestctx"
	"github.com/hanko-field/product-options/internal/services"
)

const (
	maxWebhookBodySize = 256 * 1024
	maxFreezeBodySize  = 32 * 1024

	// OrderWebhookSecretName is the HMAC secret protecting POST /webhooks/orders.
	OrderWebhookSecretName = "orders"

	freezeStatusFrozen        = "frozen"
	freezeStatusAlreadyFrozen = "already_frozen"
	freezeStatusSkipped       = "skipped"
)

// OrderWebhookHandlers receives the commerce host's order-created hook and freezes
// each line's selection. Signature checks are applied by the /webhooks middleware.
type OrderWebhookHandlers struct {
	orders services.OrderService
}

func NewOrderWebhookHandlers(orders services.OrderService) *OrderWebhookHandlers {
	return &OrderWebhookHandlers{orders: orders}
}

func (h *OrderWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.orderCreated)
}

type freezeLinePayload struct {
	LineID    string `json:"line_id"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
	Total     int    `json:"total,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	FrozenAt  string `json:"frozen_at,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

type freezeOrderResponse struct {
	OrderID string              `json:"order_id"`
	Lines   []freezeLinePayload `json:"lines"`
}

type webhookLineRequest struct {
	LineID       string          `json:"line_id"`
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	CartLineID   string          `json:"cart_line_id"`
	ExtraOptions json.RawMessage `json:"extra_options"`
}

type webhookOrderRequest struct {
	OrderID string               `json:"order_id"`
	UserID  string               `json:"user_id"`
	Lines   []webhookLineRequest `json:"lines"`
}

func (h *OrderWebhookHandlers) orderCreated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd, err := parseWebhookOrderRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	results, err := h.orders.FreezeOrder(ctx, cmd)
	if err != nil {
		requestctx.Logger(ctx).Sugar().Warnw("order webhook freeze failed",
			"orderID", cmd.OrderID,
			"processed", len(results),
			"error", err,
		)
		writeOrderError(ctx, w, err)
		return
	}

	payload := freezeOrderResponse{OrderID: cmd.OrderID, Lines: make([]freezeLinePayload, 0, len(results))}
	for i, result := range results {
		entry := buildFreezeLinePayload(result)
		entry.ProductID = cmd.Lines[i].ProductID
		payload.Lines = append(payload.Lines, entry)
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func parseWebhookOrderRequest(body []byte) (services.FreezeOrderCommand, error) {
	var req webhookOrderRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return services.FreezeOrderCommand{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	cmd := services.FreezeOrderCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		UserID:  strings.TrimSpace(req.UserID),
	}
	if cmd.OrderID == "" {
		return cmd, errors.New("order_id is required")
	}
	if len(req.Lines) == 0 {
		return cmd, errors.New("lines must not be empty")
	}
	for i, line := range req.Lines {
		lineID := strings.TrimSpace(line.LineID)
		if lineID == "" {
			return cmd, fmt.Errorf("lines[%d].line_id is required", i)
		}
		freeze := services.FreezeLineCommand{
			OrderID:    cmd.OrderID,
			LineID:     lineID,
			UserID:     cmd.UserID,
			ProductID:  strings.TrimSpace(line.ProductID),
			Quantity:   line.Quantity,
			CartLineID: strings.TrimSpace(line.CartLineID),
		}
		if len(line.ExtraOptions) > 0 {
			sel, _, err := decodeSelectionField(line.ExtraOptions)
			if err != nil {
				return cmd, fmt.Errorf("lines[%d].extra_options: %w", i, err)
			}
			freeze.ExtraOptions = sel
		}
		cmd.Lines = append(cmd.Lines, freeze)
	}
	return cmd, nil
}

// InternalOrderHandlers exposes service-to-service order operations behind OIDC.
type InternalOrderHandlers struct {
	orders services.OrderService
}

func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderId}/lines/{lineId}:freeze", h.freezeLine)
}

func (h *InternalOrderHandlers) freezeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cmd := services.FreezeLineCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		LineID:  strings.TrimSpace(chi.URLParam(r, "lineId")),
	}
	body, err := readLimitedBody(r, maxFreezeBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		var req struct {
			UserID       string          `json:"user_id"`
			ProductID    string          `json:"product_id"`
			Quantity     int             `json:"quantity"`
			CartLineID   string          `json:"cart_line_id"`
			ExtraOptions json.RawMessage `json:"extra_options"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
		cmd.UserID = strings.TrimSpace(req.UserID)
		cmd.ProductID = strings.TrimSpace(req.ProductID)
		cmd.Quantity = req.Quantity
		cmd.CartLineID = strings.TrimSpace(req.CartLineID)
		if len(req.ExtraOptions) > 0 {
			sel, _, err := decodeSelectionField(req.ExtraOptions)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
				return
			}
			cmd.ExtraOptions = sel
		}
	}

	result, err := h.orders.FreezeLine(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok && caller != nil {
		requestctx.Logger(ctx).Sugar().Infow("internal freeze",
			"orderID", cmd.OrderID,
			"lineID", cmd.LineID,
			"caller", caller.Email,
			"status", freezeStatus(result),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, buildFreezeLinePayload(result))
}

func freezeStatus(result services.FreezeResult) string {
	switch {
	case result.Frozen:
		return freezeStatusFrozen
	case result.AlreadyFrozen:
		return freezeStatusAlreadyFrozen
	default:
		return freezeStatusSkipped
	}
}

func buildFreezeLinePayload(result services.FreezeResult) freezeLinePayload {
	payload := freezeLinePayload{
		LineID:  result.LineID,
		Status:  freezeStatus(result),
		Summary: result.Summary,
		Total:   result.Total,
		EventID: result.EventID,
	}
	if !result.FrozenAt.IsZero() {
		payload.FrozenAt = result.FrozenAt.UTC().Format(time.RFC3339)
	}
	return payload
}
