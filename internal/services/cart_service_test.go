package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/selection"
)

func newCartServiceForTest(t *testing.T, strict bool, logger *recordingLogger) (CartService, repositories.Registry) {
	t.Helper()
	reg := seededRegistry(giftWrapCatalog())
	catalogs, err := NewCatalogService(CatalogServiceDeps{Catalogs: reg.Catalogs()})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	deps := CartServiceDeps{
		CartLines:         reg.CartLines(),
		Catalogs:          catalogs,
		Localizer:         selection.NewLocalizer(),
		StrictCatalog:     strict,
		MaxTransportBytes: 256,
		Clock:             fixedClock,
		IDGenerator:       sequentialIDs("line-"),
	}
	if logger != nil {
		deps.Logger = logger.log
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc, reg
}

func TestCartServiceAttachesWellFormedSelection(t *testing.T) {
	svc, reg := newCartServiceForTest(t, false, nil)

	line, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:         "u1",
		ProductID:      "mug",
		Quantity:       1,
		TransportValue: `[{"option":"A","quantity":5},{"option":"B","quantity":1}]`,
		HasTransport:   true,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if line.Item.ID != "line-1" || !line.Item.AddedAt.Equal(fixedNow) {
		t.Fatalf("unexpected line %+v", line.Item)
	}
	if line.Display == nil || line.Display.Value != "A x 5, B x 1" || line.Display.Label != "Added options" {
		t.Fatalf("unexpected display %+v", line.Display)
	}

	stored, err := reg.CartLines().Get(context.Background(), "u1", "line-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.ExtraOptions) != 2 || stored.ExtraOptions[0].Option != "A" {
		t.Fatalf("expected selection stored verbatim, got %+v", stored.ExtraOptions)
	}
}

func TestCartServiceIgnoresMalformedTransport(t *testing.T) {
	cases := map[string]string{
		"not json":        "Gift Wrap x 2",
		"object":          `{"option":"A","quantity":1}`,
		"null":            "null",
		"string quantity": `[{"option":"A","quantity":"2"}]`,
		"missing option":  `[{"quantity":2}]`,
		"number element":  `[1,2]`,
		"truncated":       `[{"option":"A","quantity":1}`,
		"oversized":       `[{"option":"` + strings.Repeat("a", 300) + `","quantity":1}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			logger := &recordingLogger{}
			svc, _ := newCartServiceForTest(t, false, logger)
			line, err := svc.AddItem(context.Background(), AddCartItemCommand{
				UserID: "u1", ProductID: "mug", TransportValue: raw, HasTransport: true,
			})
			if err != nil {
				t.Fatalf("expected add to succeed, got %v", err)
			}
			if line.Item.HasExtraOptions() || line.Display != nil {
				t.Fatalf("expected no extra options, got %+v", line)
			}
			if !logger.has("cart.extra_options.discarded") {
				t.Fatalf("expected discard to be logged")
			}
		})
	}
}

func TestCartServiceEmptyAndAbsentSelections(t *testing.T) {
	svc, _ := newCartServiceForTest(t, true, nil)
	ctx := context.Background()

	empty, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug", TransportValue: "[]", HasTransport: true})
	if err != nil {
		t.Fatalf("AddItem empty: %v", err)
	}
	if !empty.Item.HasExtraOptions() || len(empty.Item.ExtraOptions) != 0 || empty.Display != nil {
		t.Fatalf("expected explicit empty selection without display, got %+v", empty)
	}

	absent, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug"})
	if err != nil {
		t.Fatalf("AddItem absent: %v", err)
	}
	if absent.Item.HasExtraOptions() || absent.Item.Quantity != 1 {
		t.Fatalf("expected absent selection with default quantity, got %+v", absent.Item)
	}

	lines, err := svc.ListItems(ctx, "u1", "ja")
	if err != nil || len(lines) != 2 {
		t.Fatalf("ListItems: %+v err %v", lines, err)
	}
}

func TestCartServiceStrictCatalog(t *testing.T) {
	svc, _ := newCartServiceForTest(t, true, nil)
	ctx := context.Background()

	rejected := []string{
		`[{"option":"Engraving","quantity":2}]`,
		`[{"option":"Gift Wrap","quantity":1}]`,
		`[{"option":"Gift Wrap","quantity":6}]`,
		`[{"option":"Gift Wrap","quantity":-1},{"option":"Insurance","quantity":3}]`,
	}
	for _, raw := range rejected {
		if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug", TransportValue: raw, HasTransport: true}); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", raw, err)
		}
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "poster", TransportValue: `[{"option":"A","quantity":1}]`, HasTransport: true}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected unconfigured product to reject options, got %v", err)
	}

	line, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug", TransportValue: `[{"option":"Gift Wrap","quantity":2},{"option":"Insurance","quantity":3}]`, HasTransport: true, Locale: "it"})
	if err != nil {
		t.Fatalf("AddItem valid: %v", err)
	}
	if line.Display == nil || line.Display.Value != "Gift Wrap x 2, Insurance x 3" || line.Display.Label != "Opzioni aggiunte" {
		t.Fatalf("unexpected display %+v", line.Display)
	}
}

func TestCartServiceRenderForDisplayEscapesMarkup(t *testing.T) {
	svc, _ := newCartServiceForTest(t, false, nil)

	entry, ok := svc.RenderForDisplay(domain.CartLineItem{ExtraOptions: domain.Selection{
		{Option: `<script>alert(1)</script>Wrap`, Quantity: 1},
	}}, "")
	if !ok {
		t.Fatalf("expected display entry")
	}
	if strings.Contains(entry.Value, "<") || !strings.HasSuffix(entry.Value, "Wrap x 1") {
		t.Fatalf("expected markup removed, got %q", entry.Value)
	}

	if _, ok := svc.RenderForDisplay(domain.CartLineItem{ExtraOptions: domain.Selection{}}, ""); ok {
		t.Fatalf("expected no entry for empty selection")
	}
}

func TestCartServiceRemoveItem(t *testing.T) {
	svc, _ := newCartServiceForTest(t, false, nil)
	ctx := context.Background()

	line, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug"})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := svc.RemoveItem(ctx, "u2", line.Item.ID); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected other user's removal to miss, got %v", err)
	}
	if err := svc.RemoveItem(ctx, "u1", line.Item.ID); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if err := svc.RemoveItem(ctx, "u1", " "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewCartServiceValidation(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); err == nil {
		t.Fatalf("expected missing repository error")
	}
	if _, err := NewCartService(CartServiceDeps{CartLines: seededRegistry().CartLines(), StrictCatalog: true}); err == nil {
		t.Fatalf("expected strict mode to require catalogs")
	}
}
