package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hanko-field/product-options/internal/platform/auth"
)

func newProductRouter(f *fixture) http.Handler {
	h := NewProductHandlers(
		WithProductCatalogService(f.catalog),
		WithProductSelectionService(f.selection),
		WithProductLocalizer(f.localizer),
	)
	return mountRoutes("/public", h.Routes)
}

func TestProductHandlersGetOptions(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodGet, "/public/products/prod-1/options", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body productOptionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.PickerEnabled || len(body.Options) != 2 || body.MinSelections != 2 || body.MaxSelections != 5 {
		t.Fatalf("unexpected payload %+v", body)
	}
	if body.Field != "extra_options_data" || body.Label != "Added options" {
		t.Fatalf("unexpected field/label %+v", body)
	}
	if rr.Header().Get("Cache-Control") != optionsCacheControl {
		t.Fatalf("expected cache header, got %q", rr.Header().Get("Cache-Control"))
	}
}

func TestProductHandlersGetOptionsAbsentCatalog(t *testing.T) {
	f := newFixture(t)
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodGet, "/public/products/unknown/options", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["picker_enabled"] != false {
		t.Fatalf("expected picker disabled, got %v", body["picker_enabled"])
	}
	if options, ok := body["options"].([]any); !ok || len(options) != 0 {
		t.Fatalf("expected empty options array, got %v", body["options"])
	}
}

func TestProductHandlersApplyMergesRepeatedAdds(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	first := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:apply",
		`{"action":{"type":"add","option":"Gift Wrap","quantity":2}}`, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	var afterFirst applySelectionResponse
	if err := json.Unmarshal(first.Body.Bytes(), &afterFirst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if afterFirst.Total != 2 || !afterFirst.CheckoutEnabled || afterFirst.Notice != nil {
		t.Fatalf("unexpected first result %+v", afterFirst)
	}
	if afterFirst.Input.Quantity != 1 || afterFirst.Input.Option != "" {
		t.Fatalf("expected input reset, got %+v", afterFirst.Input)
	}

	second := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:apply",
		`{"selection":[{"option":"Gift Wrap","quantity":2}],"action":{"type":"add","option":"Gift Wrap","quantity":3}}`, nil)
	var afterSecond applySelectionResponse
	if err := json.Unmarshal(second.Body.Bytes(), &afterSecond); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(afterSecond.Selection) != 1 || afterSecond.Selection[0].Quantity != 5 {
		t.Fatalf("expected merged Gift Wrap x 5, got %+v", afterSecond.Selection)
	}
}

func TestProductHandlersApplyRejectsAddAboveMaximum(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:apply",
		`{"selection":[{"option":"Gift Wrap","quantity":4}],"action":{"type":"add","option":"Insurance","quantity":2}}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body applySelectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Rejected || body.Ignored {
		t.Fatalf("expected rejected add, got %+v", body)
	}
	if body.Notice == nil || *body.Notice != "The total quantity cannot exceed 5." {
		t.Fatalf("unexpected notice %v", body.Notice)
	}
	if body.Total != 4 || len(body.Selection) != 1 {
		t.Fatalf("expected unchanged selection, got %+v", body)
	}
}

func TestProductHandlersApplyIgnoresUnknownOption(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:apply",
		`{"action":{"type":"add","option":"Engraving","quantity":1}}`, nil)
	var body applySelectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ignored || body.Rejected || body.Total != 0 {
		t.Fatalf("expected silent ignore, got %+v", body)
	}
}

func TestProductHandlersApplyRemove(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:apply",
		`{"selection":[{"option":"Gift Wrap","quantity":2},{"option":"Insurance","quantity":1}],"action":{"type":"remove","index":0}}`, nil)
	var body applySelectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Selection) != 1 || body.Selection[0].Option != "Insurance" {
		t.Fatalf("expected Insurance only, got %+v", body.Selection)
	}
	if body.CheckoutEnabled || body.Notice == nil {
		t.Fatalf("expected below-minimum notice, got %+v", body)
	}
}

func TestProductHandlersApplyValidation(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	cases := map[string]struct {
		path   string
		body   string
		status int
	}{
		"unknown action":      {"/public/products/prod-1/selection:apply", `{"action":{"type":"replace"}}`, http.StatusBadRequest},
		"remove without idx":  {"/public/products/prod-1/selection:apply", `{"action":{"type":"remove"}}`, http.StatusBadRequest},
		"unknown field":       {"/public/products/prod-1/selection:apply", `{"extra":1}`, http.StatusBadRequest},
		"malformed selection": {"/public/products/prod-1/selection:apply", `{"selection":"not json"}`, http.StatusBadRequest},
		"empty body":          {"/public/products/prod-1/selection:apply", ``, http.StatusBadRequest},
		"picker disabled":     {"/public/products/none/selection:apply", `{}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(router, http.MethodPost, tc.path, tc.body, nil)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestProductHandlersCheckoutBlockedBelowMinimumInItalian(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:checkout",
		`{"selection":[{"option":"Gift Wrap","quantity":1}]}`,
		func(r *http.Request) *http.Request {
			r.Header.Set("Accept-Language", "it-IT,it;q=0.9")
			return r
		})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "Hai selezionato 1 prodotti. Devi selezionare almeno 2 prodotti per procedere."
	if body["notice"] != want || body["message"] != want {
		t.Fatalf("expected Italian notice, got %v", body)
	}
	if body["error"] != "selection_blocked" || body["notice_kind"] != "below_minimum" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestProductHandlersCheckoutUsesIdentityLocale(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:checkout",
		`{"selection":[{"option":"Gift Wrap","quantity":1}]}`,
		func(r *http.Request) *http.Request {
			r.Header.Set("Accept-Language", "it")
			return withIdentity(r, &auth.Identity{UID: "user-1", Locale: "ja"})
		})
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["notice"] != "1 個選択されています。続行するには 2 個以上選択してください。" {
		t.Fatalf("expected Japanese notice from identity locale, got %v", body["notice"])
	}
}

func TestProductHandlersCheckoutAllowed(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:checkout",
		`{"selection":[{"option":"Gift Wrap","quantity":2},{"option":"Insurance","quantity":1}]}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body checkoutSelectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := `[{"option":"Gift Wrap","quantity":2},{"option":"Insurance","quantity":1}]`
	if body.TransportValue != want || body.Total != 3 || !body.CheckoutEnabled {
		t.Fatalf("unexpected checkout payload %+v", body)
	}
}

func TestProductHandlersCheckoutEmptySelection(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:checkout", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected empty selection to pass, got %d: %s", rr.Code, rr.Body.String())
	}
	var body checkoutSelectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TransportValue != "[]" {
		t.Fatalf("expected [] transport, got %q", body.TransportValue)
	}
}

func TestProductHandlersCheckoutAboveMaximum(t *testing.T) {
	f := newFixture(t)
	f.seedGiftWrap(t, "prod-1")
	router := newProductRouter(f)

	rr := doRequest(router, http.MethodPost, "/public/products/prod-1/selection:checkout",
		`{"selection":"[{\"option\":\"Gift Wrap\",\"quantity\":6}]"}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["notice"] != "You selected 6 items. The maximum allowed is 5." {
		t.Fatalf("unexpected notice %v", body["notice"])
	}
}

func TestProductHandlersUnavailableServices(t *testing.T) {
	router := mountRoutes("/public", NewProductHandlers().Routes)

	for _, path := range []string{"/public/products/p/options", "/public/products/p/options/picker"} {
		if rr := doRequest(router, http.MethodGet, path, "", nil); rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
	}
	if rr := doRequest(router, http.MethodPost, "/public/products/p/selection:apply", `{}`, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
