package repositories

import (
	"context"

	domain "github.com/hanko-field/product-options/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalogs() CatalogRepository
	CartLines() CartLineRepository
	OrderLines() OrderLineRepository
	// Checks returns readiness probes for the backing store.
	Checks() []DependencyCheck
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories
// called with the ctx handed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository stores per-product option catalogs. Get returns a not-found
// RepositoryError when the product has no catalog.
type CatalogRepository interface {
	Get(ctx context.Context, productID string) (domain.OptionCatalog, error)
	Save(ctx context.Context, catalog domain.OptionCatalog) error
	Delete(ctx context.Context, productID string) error
}

// CartLineRepository stores cart lines scoped by user.
type CartLineRepository interface {
	Insert(ctx context.Context, line domain.CartLineItem) error
	Get(ctx context.Context, userID, lineID string) (domain.CartLineItem, error)
	ListByUser(ctx context.Context, userID string) ([]domain.CartLineItem, error)
	Delete(ctx context.Context, userID, lineID string) error
}

// OrderLineRepository stores order lines and their frozen metadata.
type OrderLineRepository interface {
	Get(ctx context.Context, orderID, lineID string) (domain.OrderLineItem, error)
	Upsert(ctx context.Context, line domain.OrderLineItem) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error)
}

// HealthRepository aggregates dependency probes for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
