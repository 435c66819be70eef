package domain

import (
	"strings"
	"time"
)

// OptionCatalog holds the admin-authored set of extra options offered for a product,
// together with the total-quantity bounds a shopper's selection must respect.
type OptionCatalog struct {
	ProductID     string
	Options       []string
	MinSelections int
	MaxSelections int
	UpdatedAt     time.Time
	UpdatedBy     string
}

// PickerEnabled reports whether the storefront should render an option picker at all.
func (c OptionCatalog) PickerEnabled() bool {
	return len(c.Options) > 0
}

// Contains reports whether option is one of the catalog values.
func (c OptionCatalog) Contains(option string) bool {
	option = strings.TrimSpace(option)
	if option == "" {
		return false
	}
	for _, candidate := range c.Options {
		if candidate == option {
			return true
		}
	}
	return false
}

// SelectionItem is a single (option, quantity) pair chosen by a shopper.
type SelectionItem struct {
	Option   string `json:"option"`
	Quantity int    `json:"quantity"`
}

// Selection is the ordered list of chosen items. Order follows insertion.
type Selection []SelectionItem

// Total returns the sum of quantities across the selection.
func (s Selection) Total() int {
	total := 0
	for _, item := range s {
		total += item.Quantity
	}
	return total
}

// Clone returns an independent copy. A nil selection stays nil.
func (s Selection) Clone() Selection {
	if s == nil {
		return nil
	}
	out := make(Selection, len(s))
	copy(out, s)
	return out
}

// CartLineItem is a product line in a shopper's cart. ExtraOptions is nil when the
// line carries no extra options field and an empty non-nil slice when the shopper
// explicitly submitted an empty selection.
type CartLineItem struct {
	ID           string
	UserID       string
	ProductID    string
	Quantity     int
	ExtraOptions Selection
	AddedAt      time.Time
}

// HasExtraOptions reports whether the line carries the extra options field.
func (l CartLineItem) HasExtraOptions() bool {
	return l.ExtraOptions != nil
}

// OrderLineItem is a product line inside a placed order. Meta holds frozen display
// strings keyed by metadata key.
type OrderLineItem struct {
	ID        string
	OrderID   string
	UserID    string
	ProductID string
	Quantity  int
	Meta      map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetaValue returns the metadata entry stored under key.
func (l OrderLineItem) MetaValue(key string) (string, bool) {
	if l.Meta == nil {
		return "", false
	}
	value, ok := l.Meta[key]
	return value, ok
}

// DisplayEntry is a labelled line shown under a cart, checkout, or order item.
type DisplayEntry struct {
	Label string
	Value string
}

// SelectionFrozenEvent is emitted once a selection summary is written onto an order line.
type SelectionFrozenEvent struct {
	ID         string
	OrderID    string
	LineItemID string
	ProductID  string
	UserID     string
	MetaKey    string
	Summary    string
	Total      int
	OccurredAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	// StorageBackend is firestore, sqlite, or memory.
	StorageBackend string
}
