// Package memory provides an in-process repository registry for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/repositories"
)

// Registry keeps every record in maps guarded by a single lock. Units of work are
// serialised so read-check-write sequences inside RunInTx are atomic.
type Registry struct {
	mu       sync.RWMutex
	catalogs map[string]domain.OptionCatalog
	cart     map[string]map[string]domain.CartLineItem
	orders   map[string]map[string]domain.OrderLineItem

	txMu sync.Mutex
}

var _ repositories.Registry = (*Registry)(nil)

type txMarker struct{}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		catalogs: make(map[string]domain.OptionCatalog),
		cart:     make(map[string]map[string]domain.CartLineItem),
		orders:   make(map[string]map[string]domain.OrderLineItem),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Catalogs() repositories.CatalogRepository { return catalogRepository{r} }

func (r *Registry) CartLines() repositories.CartLineRepository { return cartLineRepository{r} }

func (r *Registry) OrderLines() repositories.OrderLineRepository { return orderLineRepository{r} }

// Checks reports no probes; the in-memory store is always ready.
func (r *Registry) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}
}

// RunInTx runs fn while holding the unit-of-work lock. Nested calls join the outer unit.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, txMarker{}, true))
}

type catalogRepository struct{ r *Registry }

func (c catalogRepository) Get(_ context.Context, productID string) (domain.OptionCatalog, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	catalog, ok := c.r.catalogs[productID]
	if !ok {
		return domain.OptionCatalog{}, repositories.NewNotFoundError("catalogs.get")
	}
	catalog.Options = append([]string(nil), catalog.Options...)
	return catalog, nil
}

func (c catalogRepository) Save(_ context.Context, catalog domain.OptionCatalog) error {
	catalog.Options = append([]string(nil), catalog.Options...)
	c.r.mu.Lock()
	c.r.catalogs[catalog.ProductID] = catalog
	c.r.mu.Unlock()
	return nil
}

func (c catalogRepository) Delete(_ context.Context, productID string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if _, ok := c.r.catalogs[productID]; !ok {
		return repositories.NewNotFoundError("catalogs.delete")
	}
	delete(c.r.catalogs, productID)
	return nil
}

type cartLineRepository struct{ r *Registry }

func (c cartLineRepository) Insert(_ context.Context, line domain.CartLineItem) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	lines := c.r.cart[line.UserID]
	if lines == nil {
		lines = make(map[string]domain.CartLineItem)
		c.r.cart[line.UserID] = lines
	}
	if _, exists := lines[line.ID]; exists {
		return repositories.NewConflictError("cart_lines.insert", errDuplicate(line.ID))
	}
	line.ExtraOptions = line.ExtraOptions.Clone()
	lines[line.ID] = line
	return nil
}

func (c cartLineRepository) Get(_ context.Context, userID, lineID string) (domain.CartLineItem, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	line, ok := c.r.cart[userID][lineID]
	if !ok {
		return domain.CartLineItem{}, repositories.NewNotFoundError("cart_lines.get")
	}
	line.ExtraOptions = line.ExtraOptions.Clone()
	return line, nil
}

func (c cartLineRepository) ListByUser(_ context.Context, userID string) ([]domain.CartLineItem, error) {
	c.r.mu.RLock()
	out := make([]domain.CartLineItem, 0, len(c.r.cart[userID]))
	for _, line := range c.r.cart[userID] {
		line.ExtraOptions = line.ExtraOptions.Clone()
		out = append(out, line)
	}
	c.r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

func (c cartLineRepository) Delete(_ context.Context, userID, lineID string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if _, ok := c.r.cart[userID][lineID]; !ok {
		return repositories.NewNotFoundError("cart_lines.delete")
	}
	delete(c.r.cart[userID], lineID)
	return nil
}

type orderLineRepository struct{ r *Registry }

func (o orderLineRepository) Get(_ context.Context, orderID, lineID string) (domain.OrderLineItem, error) {
	o.r.mu.RLock()
	defer o.r.mu.RUnlock()
	line, ok := o.r.orders[orderID][lineID]
	if !ok {
		return domain.OrderLineItem{}, repositories.NewNotFoundError("order_lines.get")
	}
	line.Meta = cloneMeta(line.Meta)
	return line, nil
}

func (o orderLineRepository) Upsert(_ context.Context, line domain.OrderLineItem) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	lines := o.r.orders[line.OrderID]
	if lines == nil {
		lines = make(map[string]domain.OrderLineItem)
		o.r.orders[line.OrderID] = lines
	}
	line.Meta = cloneMeta(line.Meta)
	lines[line.ID] = line
	return nil
}

func (o orderLineRepository) ListByOrder(_ context.Context, orderID string) ([]domain.OrderLineItem, error) {
	o.r.mu.RLock()
	out := make([]domain.OrderLineItem, 0, len(o.r.orders[orderID]))
	for _, line := range o.r.orders[orderID] {
		line.Meta = cloneMeta(line.Meta)
		out = append(out, line)
	}
	o.r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

type errDuplicate string

func (e errDuplicate) Error() string { return "duplicate id " + string(e) }
