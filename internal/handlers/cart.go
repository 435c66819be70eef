package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

const maxCartBodySize = 64 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	localizer *selection.Localizer
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, localizer *selection.Localizer) *CartHandlers {
	if localizer == nil {
		localizer = selection.NewLocalizer()
	}
	return &CartHandlers{
		authn:     authn,
		carts:     carts,
		localizer: localizer,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listItems)
	r.Post("/items", h.addItem)
	r.Delete("/items/{itemId}", h.removeItem)
}

type cartLinePayload struct {
	ID           string                  `json:"id"`
	ProductID    string                  `json:"product_id"`
	Quantity     int                     `json:"quantity"`
	ExtraOptions *[]selectionItemPayload `json:"extra_options,omitempty"`
	Display      *displayEntryPayload    `json:"display,omitempty"`
	AddedAt      string                  `json:"added_at"`
}

type cartResponse struct {
	Items []cartLinePayload `json:"items"`
}

type cartItemResponse struct {
	Item cartLinePayload `json:"item"`
}

func (h *CartHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	_, locale := resolveLocale(r, h.localizer)

	lines, err := h.carts.ListItems(ctx, identity.UID, locale)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	payload := cartResponse{Items: make([]cartLinePayload, 0, len(lines))}
	for _, line := range lines {
		payload.Items = append(payload.Items, buildCartLinePayload(line))
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	r, locale := resolveLocale(r, h.localizer)

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	req, err := parseAddCartItemRequest(r.Header.Get("Content-Type"), body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	line, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:         identity.UID,
		ProductID:      req.productID,
		Quantity:       req.quantity,
		TransportValue: req.transport,
		HasTransport:   req.hasTransport,
		Locale:         locale,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, cartItemResponse{Item: buildCartLinePayload(line)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}
	if err := h.carts.RemoveItem(ctx, identity.UID, itemID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCartItemRequest struct {
	productID    string
	quantity     int
	transport    string
	hasTransport bool
}

// parseAddCartItemRequest accepts the JSON API body or the storefront's form post,
// where extra_options_data arrives as a hidden input.
func parseAddCartItemRequest(contentType string, body []byte) (addCartItemRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		return parseAddCartItemForm(body)
	}

	var req addCartItemRequest
	raw, err := decodeJSONObject(body)
	if err != nil {
		return req, err
	}
	for key, value := range raw {
		switch key {
		case "product_id":
			if err := json.Unmarshal(value, &req.productID); err != nil {
				return req, errors.New("product_id must be a string")
			}
		case "quantity":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.quantity); err != nil {
				return req, errors.New("quantity must be an integer")
			}
		case selection.TransportField:
			if isJSONNull(value) {
				continue
			}
			// Non-string values are passed on as raw JSON text.
			var transport string
			if err := json.Unmarshal(value, &transport); err != nil {
				transport = string(value)
			}
			req.transport = transport
			req.hasTransport = true
		default:
			return req, fmt.Errorf("unsupported field %q", key)
		}
	}
	if strings.TrimSpace(req.productID) == "" {
		return req, errors.New("product_id is required")
	}
	return req, nil
}

func parseAddCartItemForm(body []byte) (addCartItemRequest, error) {
	var req addCartItemRequest
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return req, fmt.Errorf("invalid form payload: %w", err)
	}
	req.productID = strings.TrimSpace(values.Get("product_id"))
	if req.productID == "" {
		return req, errors.New("product_id is required")
	}
	if qty := strings.TrimSpace(values.Get("quantity")); qty != "" {
		parsed, err := strconv.Atoi(qty)
		if err != nil {
			return req, errors.New("quantity must be an integer")
		}
		req.quantity = parsed
	}
	if values.Has(selection.TransportField) {
		req.transport = values.Get(selection.TransportField)
		req.hasTransport = true
	}
	return req, nil
}

func buildCartLinePayload(line services.CartLine) cartLinePayload {
	payload := cartLinePayload{
		ID:        line.Item.ID,
		ProductID: line.Item.ProductID,
		Quantity:  line.Item.Quantity,
		Display:   displayToPayload(line.Display),
	}
	if line.Item.HasExtraOptions() {
		items := selectionToPayload(line.Item.ExtraOptions)
		payload.ExtraOptions = &items
	}
	if !line.Item.AddedAt.IsZero() {
		payload.AddedAt = line.Item.AddedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart item already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
