package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/repositories/memory"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	registry  *memory.Registry
	localizer *selection.Localizer
	catalog   services.CatalogService
	selection services.SelectionService
	cart      services.CartService
	orders    services.OrderService
	events    *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.SelectionFrozenEvent
}

func (p *recordingPublisher) PublishSelectionFrozen(_ context.Context, event services.SelectionFrozenEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-" + strconv.Itoa(len(p.events)), nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := memory.NewRegistry()
	clock := func() time.Time { return fixedNow }
	localizer := selection.NewLocalizer(selection.WithDefaultLocale("en"))

	var seq int
	var seqMu sync.Mutex
	nextID := func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return "id-" + strconv.Itoa(seq)
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{Catalogs: reg.Catalogs(), Clock: clock})
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}
	selectionSvc, err := services.NewSelectionService(services.SelectionServiceDeps{Catalogs: catalogSvc, Localizer: localizer})
	if err != nil {
		t.Fatalf("selection service: %v", err)
	}
	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		CartLines:   reg.CartLines(),
		Catalogs:    catalogSvc,
		Localizer:   localizer,
		Clock:       clock,
		IDGenerator: nextID,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	events := &recordingPublisher{}
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		OrderLines:  reg.OrderLines(),
		CartLines:   reg.CartLines(),
		UnitOfWork:  reg,
		Localizer:   localizer,
		Events:      events,
		Clock:       clock,
		IDGenerator: nextID,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	return &fixture{
		registry:  reg,
		localizer: localizer,
		catalog:   catalogSvc,
		selection: selectionSvc,
		cart:      cartSvc,
		orders:    orderSvc,
		events:    events,
	}
}

// seedGiftWrap stores the catalog used across handler tests: two options, 2..5 units.
func (f *fixture) seedGiftWrap(t *testing.T, productID string) {
	t.Helper()
	err := f.registry.Catalogs().Save(context.Background(), domain.OptionCatalog{
		ProductID:     productID,
		Options:       []string{"Gift Wrap", "Insurance"},
		MinSelections: 2,
		MaxSelections: 5,
		UpdatedAt:     fixedNow,
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
}

func mountRoutes(prefix string, routes RouteRegistrar) chi.Router {
	router := chi.NewRouter()
	router.Route(prefix, func(r chi.Router) { routes(r) })
	return router
}

func withIdentity(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func doRequest(router http.Handler, method, target, body string, mutate func(*http.Request) *http.Request) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		req = mutate(req)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
