package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/selection"
)

func newSelectionServiceForTest(t *testing.T, catalogs ...domain.OptionCatalog) SelectionService {
	t.Helper()
	catalogSvc, err := NewCatalogService(CatalogServiceDeps{Catalogs: seededRegistry(catalogs...).Catalogs()})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	svc, err := NewSelectionService(SelectionServiceDeps{Catalogs: catalogSvc, Localizer: selection.NewLocalizer()})
	if err != nil {
		t.Fatalf("NewSelectionService: %v", err)
	}
	return svc
}

func TestSelectionServiceGiftWrapScenario(t *testing.T) {
	svc := newSelectionServiceForTest(t, giftWrapCatalog())
	ctx := context.Background()

	first, err := svc.Apply(ctx, ApplySelectionCommand{
		ProductID: "mug",
		Action:    SelectionAction{Type: SelectionActionAdd, Option: "Gift Wrap", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if first.Verdict.CheckoutEnabled || first.Notice == nil || first.Notice.Kind != selection.NoticeBelowMinimum {
		t.Fatalf("expected below-minimum notice after first add, got %+v", first)
	}
	if first.NoticeText != "You selected 1 items. Select at least 2 to continue." {
		t.Fatalf("unexpected notice text %q", first.NoticeText)
	}
	if first.Input.Option != "" || first.Input.Quantity != selection.DefaultQuantity {
		t.Fatalf("expected input reset after accepted add, got %+v", first.Input)
	}

	second, err := svc.Apply(ctx, ApplySelectionCommand{
		ProductID: "mug",
		Selection: first.Selection,
		Action:    SelectionAction{Type: SelectionActionAdd, Option: "Insurance", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !second.Verdict.CheckoutEnabled || second.Verdict.Total != 4 || second.Notice != nil {
		t.Fatalf("expected eligible selection of 4, got %+v", second)
	}

	third, err := svc.Apply(ctx, ApplySelectionCommand{
		ProductID: "mug",
		Selection: second.Selection,
		Action:    SelectionAction{Type: SelectionActionAdd, Option: "Gift Wrap", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !third.Rejected || third.Notice == nil || third.Notice.Kind != selection.NoticeAddExceedsMaximum {
		t.Fatalf("expected rejection over maximum, got %+v", third)
	}
	if third.NoticeText != "The total quantity cannot exceed 5." {
		t.Fatalf("unexpected notice text %q", third.NoticeText)
	}
	if third.Verdict.Total != 4 || len(third.Selection) != 2 {
		t.Fatalf("expected rejected add to keep state, got %+v", third.Selection)
	}
	if third.Input.Option != "Gift Wrap" || third.Input.Quantity != 2 {
		t.Fatalf("expected rejected input to stay in the controls, got %+v", third.Input)
	}

	checkout, err := svc.Checkout(ctx, CheckoutSelectionCommand{ProductID: "mug", Selection: third.Selection})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	want := `[{"option":"Gift Wrap","quantity":1},{"option":"Insurance","quantity":3}]`
	if !checkout.Allowed || checkout.TransportValue != want {
		t.Fatalf("expected transport %s, got %+v", want, checkout)
	}
}

func TestSelectionServiceIgnoredAndRemove(t *testing.T) {
	svc := newSelectionServiceForTest(t, giftWrapCatalog())
	ctx := context.Background()
	current := domain.Selection{{Option: "Gift Wrap", Quantity: 2}, {Option: "Insurance", Quantity: 1}}

	for _, action := range []SelectionAction{
		{Type: SelectionActionAdd, Option: "Engraving", Quantity: 1},
		{Type: SelectionActionAdd, Option: "  ", Quantity: 1},
		{Type: SelectionActionAdd, Option: "Gift Wrap", Quantity: 0},
	} {
		res, err := svc.Apply(ctx, ApplySelectionCommand{ProductID: "mug", Selection: current, Action: action})
		if err != nil {
			t.Fatalf("Apply(%+v): %v", action, err)
		}
		if !res.Ignored || res.Notice != nil || res.Verdict.Total != 3 {
			t.Fatalf("expected %+v to be ignored, got %+v", action, res)
		}
	}

	outOfRange, err := svc.Apply(ctx, ApplySelectionCommand{ProductID: "mug", Selection: current, Action: SelectionAction{Type: SelectionActionRemove, Index: 7}})
	if err != nil || outOfRange.Verdict.Total != 3 {
		t.Fatalf("expected out-of-range remove to be a no-op, got %+v err %v", outOfRange, err)
	}

	removed, err := svc.Apply(ctx, ApplySelectionCommand{ProductID: "mug", Selection: current, Action: SelectionAction{Type: SelectionActionRemove, Index: 0}, Locale: "it"})
	if err != nil {
		t.Fatalf("Apply remove: %v", err)
	}
	if removed.Verdict.Total != 1 || removed.Notice == nil || removed.Notice.Kind != selection.NoticeBelowMinimum {
		t.Fatalf("expected below-minimum after removal, got %+v", removed)
	}
	if removed.NoticeText != "Hai selezionato 1 prodotti. Devi selezionare almeno 2 prodotti per procedere." {
		t.Fatalf("unexpected italian notice %q", removed.NoticeText)
	}

	if _, err := svc.Apply(ctx, ApplySelectionCommand{ProductID: "mug", Action: SelectionAction{Type: "toggle"}}); !errors.Is(err, ErrSelectionInvalidInput) {
		t.Fatalf("expected invalid action error, got %v", err)
	}
}

func TestSelectionServiceCheckoutBoundaries(t *testing.T) {
	svc := newSelectionServiceForTest(t, giftWrapCatalog())

	cases := []struct {
		name    string
		total   int
		allowed bool
	}{
		{name: "zero", total: 0, allowed: true},
		{name: "below min", total: 1, allowed: false},
		{name: "at min", total: 2, allowed: true},
		{name: "at max", total: 5, allowed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sel domain.Selection
			if tc.total > 0 {
				sel = domain.Selection{{Option: "Gift Wrap", Quantity: tc.total}}
			}
			res, err := svc.Checkout(context.Background(), CheckoutSelectionCommand{ProductID: "mug", Selection: sel})
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}
			if res.Allowed != tc.allowed {
				t.Fatalf("total %d: expected allowed=%v, got %+v", tc.total, tc.allowed, res)
			}
			if res.Allowed && res.TransportValue == "" {
				t.Fatalf("expected transport value when allowed")
			}
			if !res.Allowed && (res.NoticeText == "" || res.TransportValue != "") {
				t.Fatalf("expected notice without transport when blocked, got %+v", res)
			}
		})
	}

	over, err := svc.Checkout(context.Background(), CheckoutSelectionCommand{
		ProductID: "mug",
		Selection: domain.Selection{{Option: "Gift Wrap", Quantity: 4}, {Option: "Insurance", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if over.Allowed || over.Verdict.Notice == nil || over.Verdict.Notice.Kind != selection.NoticeAboveMaximum {
		t.Fatalf("expected above-maximum block, got %+v", over)
	}
	if over.NoticeText != "You selected 6 items. The maximum allowed is 5." {
		t.Fatalf("unexpected notice %q", over.NoticeText)
	}

	empty, _ := svc.Checkout(context.Background(), CheckoutSelectionCommand{ProductID: "mug"})
	if empty.TransportValue != "[]" {
		t.Fatalf("expected empty selection to serialize as [], got %q", empty.TransportValue)
	}
}

func TestSelectionServiceRequiresConfiguredProduct(t *testing.T) {
	svc := newSelectionServiceForTest(t, domain.OptionCatalog{ProductID: "poster", MaxSelections: 3})

	for _, productID := range []string{"poster", "unknown"} {
		if _, err := svc.Checkout(context.Background(), CheckoutSelectionCommand{ProductID: productID}); !errors.Is(err, ErrSelectionNotConfigured) {
			t.Fatalf("%s: expected not configured, got %v", productID, err)
		}
	}
	if _, err := svc.Apply(context.Background(), ApplySelectionCommand{ProductID: " "}); !errors.Is(err, ErrSelectionInvalidInput) {
		t.Fatalf("expected invalid input for blank product, got %v", err)
	}
}
