package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/repositories"
)

func TestCatalogRoundTripCopiesOptions(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	options := []string{"Gift Wrap", "Insurance"}
	if err := reg.Catalogs().Save(ctx, domain.OptionCatalog{ProductID: "mug", Options: options, MinSelections: 2, MaxSelections: 5}); err != nil {
		t.Fatalf("save: %v", err)
	}
	options[0] = "mutated"

	got, err := reg.Catalogs().Get(ctx, "mug")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Options[0] != "Gift Wrap" || got.MaxSelections != 5 {
		t.Fatalf("unexpected catalog %+v", got)
	}

	if err := reg.Catalogs().Delete(ctx, "mug"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = reg.Catalogs().Get(ctx, "mug")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCartLinesKeepNilAndEmptyDistinct(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	lines := []domain.CartLineItem{
		{ID: "b", UserID: "u1", ProductID: "mug", Quantity: 1, AddedAt: now},
		{ID: "a", UserID: "u1", ProductID: "mug", Quantity: 1, ExtraOptions: domain.Selection{}, AddedAt: now},
		{ID: "c", UserID: "u1", ProductID: "mug", Quantity: 2, ExtraOptions: domain.Selection{{Option: "Gift Wrap", Quantity: 3}}, AddedAt: now.Add(time.Minute)},
	}
	for _, line := range lines {
		if err := reg.CartLines().Insert(ctx, line); err != nil {
			t.Fatalf("insert %s: %v", line.ID, err)
		}
	}

	err := reg.CartLines().Insert(ctx, lines[0])
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	got, err := reg.CartLines().ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].ExtraOptions == nil || len(got[0].ExtraOptions) != 0 {
		t.Fatalf("expected explicit empty selection, got %#v", got[0].ExtraOptions)
	}
	if got[1].ExtraOptions != nil {
		t.Fatalf("expected absent selection, got %#v", got[1].ExtraOptions)
	}

	if other, _ := reg.CartLines().ListByUser(ctx, "u2"); len(other) != 0 {
		t.Fatalf("expected lines scoped per user, got %d", len(other))
	}
	if err := reg.CartLines().Delete(ctx, "u2", "c"); err == nil {
		t.Fatalf("expected delete by other user to fail")
	}
	if err := reg.CartLines().Delete(ctx, "u1", "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.CartLines().Get(ctx, "u1", "c"); err == nil {
		t.Fatalf("expected deleted line to be gone")
	}
}

func TestOrderLineUpsertAndList(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	meta := map[string]string{"extra_options": "Gift Wrap x 2"}
	if err := reg.OrderLines().Upsert(ctx, domain.OrderLineItem{ID: "l2", OrderID: "o1", Meta: meta}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := reg.OrderLines().Upsert(ctx, domain.OrderLineItem{ID: "l1", OrderID: "o1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	meta["extra_options"] = "mutated"

	got, err := reg.OrderLines().Get(ctx, "o1", "l2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value, _ := got.MetaValue("extra_options"); value != "Gift Wrap x 2" {
		t.Fatalf("expected stored meta to be isolated, got %q", value)
	}

	list, err := reg.OrderLines().ListByOrder(ctx, "o1")
	if err != nil || len(list) != 2 || list[0].ID != "l1" {
		t.Fatalf("unexpected list %+v err %v", list, err)
	}
}

func TestRunInTxSerialisesAndAllowsNesting(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.RunInTx(ctx, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
				if err := reg.RunInTx(ctx, func(context.Context) error { return nil }); err != nil {
					t.Errorf("nested RunInTx: %v", err)
				}

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected serialised units of work, saw %d concurrent", maxSeen)
	}

	sentinel := errors.New("boom")
	if err := reg.RunInTx(ctx, func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}
}

func TestLoadSeed(t *testing.T) {
	reg := NewRegistry()
	seed := `
catalogs:
  - product_id: mug
    options:
      - " Gift Wrap "
      - Insurance
      - ""
    min_selections: 2
    max_selections: 5
  - product_id: poster
    options: []
    max_selections: 0
`
	count, err := reg.LoadSeed(context.Background(), strings.NewReader(seed))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 catalogs, got %d", count)
	}
	mug, err := reg.Catalogs().Get(context.Background(), "mug")
	if err != nil {
		t.Fatalf("get mug: %v", err)
	}
	if len(mug.Options) != 2 || mug.Options[0] != "Gift Wrap" || mug.MinSelections != 2 || mug.UpdatedBy != "seed" {
		t.Fatalf("unexpected seeded catalog %+v", mug)
	}
	poster, _ := reg.Catalogs().Get(context.Background(), "poster")
	if poster.PickerEnabled() {
		t.Fatalf("expected poster picker disabled")
	}
}

func TestLoadSeedRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"missing product": "catalogs:\n  - options: [a]\n    max_selections: 1\n",
		"bad bounds":      "catalogs:\n  - product_id: p\n    min_selections: 3\n    max_selections: 1\n",
		"not yaml":        "catalogs: [",
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRegistry().LoadSeed(context.Background(), strings.NewReader(seed)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadSeedEmptyInput(t *testing.T) {
	count, err := NewRegistry().LoadSeed(context.Background(), strings.NewReader(""))
	if err != nil || count != 0 {
		t.Fatalf("expected empty seed to load nothing, got %d %v", count, err)
	}
}
