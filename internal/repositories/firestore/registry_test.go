package firestore

import (
	"testing"

	pconfig "github.com/hanko-field/product-options/internal/platform/config"
	pfirestore "github.com/hanko-field/product-options/internal/platform/firestore"
)

func TestNewRegistryRequiresProvider(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewCatalogRepository(nil); err == nil {
		t.Fatalf("expected catalog repository error")
	}
	if _, err := NewCartLineRepository(nil); err == nil {
		t.Fatalf("expected cart line repository error")
	}
	if _, err := NewOrderLineRepository(nil); err == nil {
		t.Fatalf("expected order line repository error")
	}
}

func TestRegistryExposesChecks(t *testing.T) {
	reg, err := NewRegistry(pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "demo"}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	checks := reg.Checks()
	if len(checks) != 1 || checks[0].Name != "firestore" || checks[0].Check == nil {
		t.Fatalf("unexpected checks %+v", checks)
	}
}

func TestDecodeCartLineKeepsEmptySelection(t *testing.T) {
	absent := decodeCartLine("u1", pfirestore.Document[cartLineDocument]{ID: "a", Data: cartLineDocument{ProductID: "mug"}})
	if absent.ExtraOptions != nil || absent.UserID != "u1" {
		t.Fatalf("expected absent selection, got %+v", absent)
	}
	empty := decodeCartLine("u1", pfirestore.Document[cartLineDocument]{ID: "b", Data: cartLineDocument{HasExtraOptions: true}})
	if empty.ExtraOptions == nil || len(empty.ExtraOptions) != 0 {
		t.Fatalf("expected explicit empty selection, got %#v", empty.ExtraOptions)
	}
	filled := decodeCartLine("u1", pfirestore.Document[cartLineDocument]{ID: "c", Data: cartLineDocument{
		HasExtraOptions: true,
		ExtraOptions:    []selectionItemDocument{{Option: "Gift Wrap", Quantity: 2}},
	}})
	if filled.ExtraOptions.Total() != 2 || filled.ExtraOptions[0].Option != "Gift Wrap" {
		t.Fatalf("unexpected selection %#v", filled.ExtraOptions)
	}
}
