package handlers

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/platform/requestctx"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

const (
	optionsCacheControl  = "public, max-age=300"
	maxSelectionBodySize = 16 * 1024
)

//go:embed templates/picker.html.tmpl
var pickerFS embed.FS

var pickerTemplate = template.Must(template.ParseFS(pickerFS, "templates/picker.html.tmpl"))

// ProductHandlers exposes the storefront option endpoints: catalog lookup, the picker
// fragment, and the server-side builder.
type ProductHandlers struct {
	authn     *auth.Authenticator
	catalog   services.CatalogService
	selection services.SelectionService
	localizer *selection.Localizer
}

// ProductOption customises ProductHandlers.
type ProductOption func(*ProductHandlers)

func WithProductAuthenticator(authn *auth.Authenticator) ProductOption {
	return func(h *ProductHandlers) { h.authn = authn }
}

func WithProductCatalogService(svc services.CatalogService) ProductOption {
	return func(h *ProductHandlers) { h.catalog = svc }
}

func WithProductSelectionService(svc services.SelectionService) ProductOption {
	return func(h *ProductHandlers) { h.selection = svc }
}

func WithProductLocalizer(localizer *selection.Localizer) ProductOption {
	return func(h *ProductHandlers) { h.localizer = localizer }
}

func NewProductHandlers(opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.localizer == nil {
		h.localizer = selection.NewLocalizer()
	}
	return h
}

// Routes registers the public product routes. Authentication is optional and only
// contributes the locale claim.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.OptionalFirebaseAuth())
		}
		rt.Get("/products/{productId}/options", h.getOptions)
		rt.Get("/products/{productId}/options/picker", h.getPicker)
		rt.Post("/products/{productId}/selection:apply", h.applySelection)
		rt.Post("/products/{productId}/selection:checkout", h.checkoutSelection)
	})
}

type productOptionsResponse struct {
	ProductID     string   `json:"product_id"`
	PickerEnabled bool     `json:"picker_enabled"`
	Options       []string `json:"options"`
	MinSelections int      `json:"min_selections"`
	MaxSelections int      `json:"max_selections"`
	Label         string   `json:"label"`
	Field         string   `json:"field"`
}

func (h *ProductHandlers) getOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	r, locale := resolveLocale(r, h.localizer)
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))

	catalog, found, err := h.catalog.FindCatalog(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := productOptionsResponse{
		ProductID: productID,
		Options:   []string{},
		Label:     h.localizer.DisplayLabel(locale),
		Field:     selection.TransportField,
	}
	if found {
		payload.PickerEnabled = catalog.PickerEnabled()
		payload.Options = append(payload.Options, catalog.Options...)
		payload.MinSelections = catalog.MinSelections
		payload.MaxSelections = catalog.MaxSelections
	}
	w.Header().Set("Cache-Control", optionsCacheControl)
	w.Header().Set("Content-Language", locale)
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type pickerView struct {
	ProductID       string
	Label           string
	Field           string
	Min             int
	Max             int
	Options         []string
	DefaultQuantity int
	Items           []selectionItemPayload
	Notice          string
	Transport       string
}

// getPicker renders the HTML fragment the storefront embeds above add-to-cart. An
// optional extra_options_data query parameter pre-fills the list.
func (h *ProductHandlers) getPicker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	r, locale := resolveLocale(r, h.localizer)
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))

	catalog, found, err := h.catalog.FindCatalog(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !found || !catalog.PickerEnabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	view := pickerView{
		ProductID:       catalog.ProductID,
		Label:           h.localizer.DisplayLabel(locale),
		Field:           selection.TransportField,
		Min:             catalog.MinSelections,
		Max:             catalog.MaxSelections,
		Options:         catalog.Options,
		DefaultQuantity: selection.DefaultQuantity,
		Items:           []selectionItemPayload{},
	}

	if raw := r.URL.Query().Get(selection.TransportField); raw != "" && h.selection != nil {
		if prefill, ok := selection.Decode(raw); ok {
			result, err := h.selection.Apply(ctx, services.ApplySelectionCommand{
				ProductID: productID,
				Selection: prefill,
				Locale:    locale,
			})
			if err != nil {
				writeSelectionError(ctx, w, err)
				return
			}
			view.Items = selectionToPayload(result.Selection)
			view.Notice = result.NoticeText
			if result.Verdict.CheckoutEnabled {
				if encoded, err := selection.Encode(result.Selection); err == nil {
					view.Transport = encoded
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := pickerTemplate.Execute(&buf, view); err != nil {
		requestctx.Logger(ctx).Sugar().Errorw("picker render failed", "productID", productID, "error", err)
		httpx.WriteError(ctx, w, httpx.NewError("render_failed", "unable to render option picker", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Language", locale)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type applySelectionRequest struct {
	selection services.Selection
	action    services.SelectionAction
}

type inputPayload struct {
	Option   string `json:"option"`
	Quantity int    `json:"quantity"`
}

type applySelectionResponse struct {
	Selection       []selectionItemPayload `json:"selection"`
	Total           int                    `json:"total"`
	CheckoutEnabled bool                   `json:"checkout_enabled"`
	Notice          *string                `json:"notice"`
	NoticeKind      string                 `json:"notice_kind,omitempty"`
	Rejected        bool                   `json:"rejected"`
	Ignored         bool                   `json:"ignored"`
	Input           inputPayload           `json:"input"`
}

func (h *ProductHandlers) applySelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.selection == nil {
		httpx.WriteError(ctx, w, httpx.NewError("selection_service_unavailable", "selection service is unavailable", http.StatusServiceUnavailable))
		return
	}
	r, locale := resolveLocale(r, h.localizer)

	body, err := readLimitedBody(r, maxSelectionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	req, err := parseApplySelectionRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.selection.Apply(ctx, services.ApplySelectionCommand{
		ProductID: chi.URLParam(r, "productId"),
		Selection: req.selection,
		Action:    req.action,
		Locale:    locale,
	})
	if err != nil {
		writeSelectionError(ctx, w, err)
		return
	}

	payload := applySelectionResponse{
		Selection:       selectionToPayload(result.Selection),
		Total:           result.Verdict.Total,
		CheckoutEnabled: result.Verdict.CheckoutEnabled,
		Rejected:        result.Rejected,
		Ignored:         result.Ignored,
		Input:           inputPayload{Option: result.Input.Option, Quantity: result.Input.Quantity},
	}
	if result.Notice != nil {
		text := result.NoticeText
		payload.Notice = &text
		payload.NoticeKind = string(result.Notice.Kind)
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type checkoutSelectionResponse struct {
	TransportValue  string `json:"transport_value"`
	Field           string `json:"field"`
	Total           int    `json:"total"`
	CheckoutEnabled bool   `json:"checkout_enabled"`
}

// checkoutSelection is the add-to-cart interception. A blocked checkout answers 422
// with the notice; an allowed one returns the transport value for extra_options_data.
func (h *ProductHandlers) checkoutSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.selection == nil {
		httpx.WriteError(ctx, w, httpx.NewError("selection_service_unavailable", "selection service is unavailable", http.StatusServiceUnavailable))
		return
	}
	r, locale := resolveLocale(r, h.localizer)

	body, err := readLimitedBody(r, maxSelectionBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	var sel services.Selection
	if len(body) > 0 {
		raw, err := decodeJSONObject(body)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		if value, ok := raw["selection"]; ok {
			decoded, valid, err := decodeSelectionField(value)
			if err != nil || (!valid && !isJSONNull(value)) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "selection is malformed", http.StatusBadRequest))
				return
			}
			sel = decoded
		}
	}

	result, err := h.selection.Checkout(ctx, services.CheckoutSelectionCommand{
		ProductID: chi.URLParam(r, "productId"),
		Selection: sel,
		Locale:    locale,
	})
	if err != nil {
		writeSelectionError(ctx, w, err)
		return
	}
	if !result.Allowed {
		details := map[string]any{
			"notice":           result.NoticeText,
			"total":            result.Verdict.Total,
			"checkout_enabled": false,
		}
		if result.Verdict.Notice != nil {
			details["notice_kind"] = string(result.Verdict.Notice.Kind)
		}
		httpx.WriteError(ctx, w, httpx.NewError("selection_blocked", result.NoticeText, http.StatusUnprocessableEntity).WithDetails(details))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutSelectionResponse{
		TransportValue:  result.TransportValue,
		Field:           selection.TransportField,
		Total:           result.Verdict.Total,
		CheckoutEnabled: true,
	})
}

func parseApplySelectionRequest(body []byte) (applySelectionRequest, error) {
	var req applySelectionRequest
	raw, err := decodeJSONObject(body)
	if err != nil {
		return req, err
	}
	for key, value := range raw {
		switch key {
		case "selection":
			sel, ok, err := decodeSelectionField(value)
			if err != nil {
				return req, err
			}
			if !ok && !isJSONNull(value) {
				return req, errors.New("selection is malformed")
			}
			req.selection = sel
		case "action":
			if isJSONNull(value) {
				continue
			}
			var action struct {
				Type     string `json:"type"`
				Option   string `json:"option"`
				Quantity *int   `json:"quantity"`
				Index    *int   `json:"index"`
			}
			if err := json.Unmarshal(value, &action); err != nil {
				return req, errors.New("action must be an object")
			}
			switch services.SelectionActionType(strings.ToLower(strings.TrimSpace(action.Type))) {
			case services.SelectionActionAdd:
				req.action.Type = services.SelectionActionAdd
				req.action.Option = action.Option
				req.action.Quantity = selection.DefaultQuantity
				if action.Quantity != nil {
					req.action.Quantity = *action.Quantity
				}
			case services.SelectionActionRemove:
				if action.Index == nil {
					return req, errors.New("action.index is required for remove")
				}
				req.action.Type = services.SelectionActionRemove
				req.action.Index = *action.Index
			case services.SelectionActionNone:
				req.action.Type = services.SelectionActionNone
			default:
				return req, fmt.Errorf("unsupported action type %q", action.Type)
			}
		default:
			return req, fmt.Errorf("unsupported field %q", key)
		}
	}
	return req, nil
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", "product has no option catalog", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load option catalog", http.StatusInternalServerError))
	}
}

func writeSelectionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSelectionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSelectionNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("picker_disabled", "product offers no extra options", http.StatusNotFound))
	case errors.Is(err, services.ErrSelectionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("selection_service_unavailable", "selection service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("selection_error", "failed to evaluate selection", http.StatusInternalServerError))
	}
}
