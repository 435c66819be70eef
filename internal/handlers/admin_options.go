package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/services"
)

const maxAdminOptionsBodySize = 64 * 1024

// AdminOptionHandlers exposes per-product option catalog management to staff.
type AdminOptionHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

func NewAdminOptionHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminOptionHandlers {
	return &AdminOptionHandlers{authn: authn, catalog: catalog}
}

// Routes registers admin option endpoints.
func (h *AdminOptionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/products/{productId}/options", h.getCatalog)
	r.Put("/products/{productId}/options", h.saveCatalog)
	r.Delete("/products/{productId}/options", h.deleteCatalog)
}

type adminCatalogResponse struct {
	ProductID     string   `json:"product_id"`
	Options       []string `json:"options"`
	MinSelections int      `json:"min_selections"`
	MaxSelections int      `json:"max_selections"`
	PickerEnabled bool     `json:"picker_enabled"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	UpdatedBy     string   `json:"updated_by,omitempty"`
}

func (h *AdminOptionHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	catalog, found, err := h.catalog.FindCatalog(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !found {
		writeCatalogError(ctx, w, services.ErrCatalogNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newAdminCatalogResponse(catalog))
}

func (h *AdminOptionHandlers) saveCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	body, err := readLimitedBody(r, maxAdminOptionsBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd, err := parseSaveCatalogRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.ProductID = strings.TrimSpace(chi.URLParam(r, "productId"))
	cmd.ActorID = identity.UID

	saved, err := h.catalog.SaveCatalog(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newAdminCatalogResponse(saved))
}

func (h *AdminOptionHandlers) deleteCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	if err := h.catalog.DeleteCatalog(ctx, strings.TrimSpace(chi.URLParam(r, "productId"))); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseSaveCatalogRequest accepts options as a list, as newline separated options_text,
// or both. Bounds default to zero when omitted.
func parseSaveCatalogRequest(body []byte) (services.SaveCatalogCommand, error) {
	var cmd services.SaveCatalogCommand
	raw, err := decodeJSONObject(body)
	if err != nil {
		return cmd, err
	}
	for key, value := range raw {
		if isJSONNull(value) {
			continue
		}
		switch key {
		case "options":
			if err := json.Unmarshal(value, &cmd.Options); err != nil {
				return cmd, errors.New("options must be an array of strings")
			}
		case "options_text":
			if err := json.Unmarshal(value, &cmd.OptionsText); err != nil {
				return cmd, errors.New("options_text must be a string")
			}
		case "min_selections":
			if err := json.Unmarshal(value, &cmd.MinSelections); err != nil {
				return cmd, errors.New("min_selections must be an integer")
			}
		case "max_selections":
			if err := json.Unmarshal(value, &cmd.MaxSelections); err != nil {
				return cmd, errors.New("max_selections must be an integer")
			}
		case "product_id":
			// The path parameter is authoritative.
		default:
			return cmd, fmt.Errorf("unsupported field %q", key)
		}
	}
	return cmd, nil
}

func newAdminCatalogResponse(catalog services.OptionCatalog) adminCatalogResponse {
	resp := adminCatalogResponse{
		ProductID:     catalog.ProductID,
		Options:       append([]string{}, catalog.Options...),
		MinSelections: catalog.MinSelections,
		MaxSelections: catalog.MaxSelections,
		PickerEnabled: catalog.PickerEnabled(),
		UpdatedBy:     catalog.UpdatedBy,
	}
	if !catalog.UpdatedAt.IsZero() {
		resp.UpdatedAt = catalog.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
