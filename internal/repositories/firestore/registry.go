// Package firestore implements the repository registry on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/hanko-field/product-options/internal/platform/firestore"
	"github.com/hanko-field/product-options/internal/repositories"
)

const (
	catalogCollection   = "option_catalogs"
	cartCollection      = "carts"
	cartItemsCollection = "items"
	orderCollection     = "orders"
	orderLineCollection = "lines"
)

// Registry wires the Firestore-backed repositories to a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	catalogs *CatalogRepository
	cart     *CartLineRepository
	orders   *OrderLineRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the registry. The Firestore client is dialled lazily.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	catalogs, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	cart, err := NewCartLineRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderLineRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, catalogs: catalogs, cart: cart, orders: orders}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Catalogs() repositories.CatalogRepository { return r.catalogs }

func (r *Registry) CartLines() repositories.CartLineRepository { return r.cart }

func (r *Registry) OrderLines() repositories.OrderLineRepository { return r.orders }

// RunInTx runs fn inside a Firestore transaction. Reads must precede writes within fn.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction func is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Checks probes the catalog collection. An empty collection is healthy.
func (r *Registry) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collection(catalogCollection).Limit(1).Documents(ctx)
			defer iter.Stop()
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		},
	}}
}
