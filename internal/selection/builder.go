package selection

import (
	"strings"

	"github.com/hanko-field/product-options/internal/domain"
)

// DefaultQuantity is the quantity control value after construction and after each accepted Add.
const DefaultQuantity = 1

// NoticeKind identifies the rule a selection violates.
type NoticeKind string

const (
	// NoticeBelowMinimum is raised when 0 < total < MinSelections.
	NoticeBelowMinimum NoticeKind = "below_minimum"
	// NoticeAboveMaximum is raised when total > MaxSelections.
	NoticeAboveMaximum NoticeKind = "above_maximum"
	// NoticeAddExceedsMaximum is raised when an Add would push the total past MaxSelections.
	NoticeAddExceedsMaximum NoticeKind = "add_exceeds_maximum"
)

// Notice is a blocking, recoverable message shown to the shopper.
type Notice struct {
	Kind  NoticeKind
	Total int
	Limit int
}

// Verdict is the checkout eligibility computed from the current total.
type Verdict struct {
	Total           int
	CheckoutEnabled bool
	Notice          *Notice
}

// Input mirrors the picker controls: the chosen option and the quantity field.
type Input struct {
	Option   string
	Quantity int
}

// AddResult reports what an Add call did.
type AddResult struct {
	Accepted bool
	Ignored  bool
	Notice   *Notice
	Verdict  Verdict
}

// Builder accumulates a Selection for one product page. A Builder is owned by a single
// interaction surface and must not be shared across goroutines.
type Builder struct {
	catalog domain.OptionCatalog
	items   domain.Selection
	input   Input
	verdict Verdict
}

// NewBuilder returns an empty Builder for catalog.
func NewBuilder(catalog domain.OptionCatalog) *Builder {
	b := &Builder{
		catalog: catalog,
		items:   domain.Selection{},
	}
	b.resetInput()
	b.verdict = Evaluate(catalog, 0)
	return b
}

// Restore rebuilds a Builder from a previously accumulated selection. Items that the
// picker could never have produced are dropped: blank or unknown options and
// non-positive quantities. Repeated options are merged. Bounds are not enforced here so
// the returned Builder reports the same verdict the shopper would see.
func Restore(catalog domain.OptionCatalog, items domain.Selection) *Builder {
	b := NewBuilder(catalog)
	for _, item := range items {
		option := strings.TrimSpace(item.Option)
		if item.Quantity <= 0 || !catalog.Contains(option) {
			continue
		}
		b.merge(option, item.Quantity)
	}
	b.verdict = Evaluate(catalog, b.items.Total())
	return b
}

// Catalog returns the catalog the Builder was constructed with.
func (b *Builder) Catalog() domain.OptionCatalog {
	return b.catalog
}

// PickerEnabled reports whether the picker controls are offered at all.
func (b *Builder) PickerEnabled() bool {
	return b.catalog.PickerEnabled()
}

// Items returns a copy of the accumulated selection.
func (b *Builder) Items() domain.Selection {
	out := b.items.Clone()
	if out == nil {
		return domain.Selection{}
	}
	return out
}

// Total returns the sum of quantities currently selected.
func (b *Builder) Total() int {
	return b.items.Total()
}

// Input returns the current picker control values.
func (b *Builder) Input() Input {
	return b.input
}

// SetInput updates the picker controls without touching the selection.
func (b *Builder) SetInput(option string, quantity int) {
	b.input = Input{Option: option, Quantity: quantity}
}

// Verdict returns the eligibility computed by the last mutation or evaluation.
func (b *Builder) Verdict() Verdict {
	return b.verdict
}

// Add merges quantity units of option into the selection. Blank options, non-positive
// quantities, and options outside the catalog are ignored silently. An Add that would
// exceed MaxSelections is rejected with a notice and leaves the state unchanged.
func (b *Builder) Add(option string, quantity int) AddResult {
	option = strings.TrimSpace(option)
	if option == "" || quantity <= 0 || !b.catalog.Contains(option) {
		return AddResult{Ignored: true, Verdict: b.verdict}
	}

	projected := b.items.Total() + quantity
	if projected > b.catalog.MaxSelections {
		notice := &Notice{
			Kind:  NoticeAddExceedsMaximum,
			Total: projected,
			Limit: b.catalog.MaxSelections,
		}
		return AddResult{Notice: notice, Verdict: b.verdict}
	}

	b.merge(option, quantity)
	b.resetInput()
	verdict := b.Evaluate()
	return AddResult{Accepted: true, Notice: verdict.Notice, Verdict: verdict}
}

// AddInput submits the current picker controls.
func (b *Builder) AddInput() AddResult {
	return b.Add(b.input.Option, b.input.Quantity)
}

// Remove drops the item at index. Out-of-range indices are a no-op.
func (b *Builder) Remove(index int) Verdict {
	if index < 0 || index >= len(b.items) {
		return b.verdict
	}
	b.items = append(b.items[:index], b.items[index+1:]...)
	return b.Evaluate()
}

// Evaluate recomputes checkout eligibility for the current selection.
func (b *Builder) Evaluate() Verdict {
	b.verdict = Evaluate(b.catalog, b.items.Total())
	return b.verdict
}

// InterceptCheckout re-runs the eligibility check right before the add-to-cart
// submission. When allowed is false the submission must be cancelled and the
// verdict's notice surfaced.
func (b *Builder) InterceptCheckout() (Verdict, bool) {
	verdict := b.Evaluate()
	return verdict, verdict.CheckoutEnabled
}

// Serialize encodes the selection into the transport value carried with add-to-cart.
func (b *Builder) Serialize() (string, error) {
	return Encode(b.items)
}

func (b *Builder) merge(option string, quantity int) {
	for i := range b.items {
		if b.items[i].Option == option {
			b.items[i].Quantity += quantity
			return
		}
	}
	b.items = append(b.items, domain.SelectionItem{Option: option, Quantity: quantity})
}

func (b *Builder) resetInput() {
	b.input = Input{Quantity: DefaultQuantity}
}

// Evaluate applies the bound rules to total. A zero total is always eligible.
func Evaluate(catalog domain.OptionCatalog, total int) Verdict {
	verdict := Verdict{Total: total, CheckoutEnabled: true}
	switch {
	case total == 0:
	case catalog.MinSelections > 0 && total < catalog.MinSelections:
		verdict.CheckoutEnabled = false
		verdict.Notice = &Notice{Kind: NoticeBelowMinimum, Total: total, Limit: catalog.MinSelections}
	case total > catalog.MaxSelections:
		verdict.CheckoutEnabled = false
		verdict.Notice = &Notice{Kind: NoticeAboveMaximum, Total: total, Limit: catalog.MaxSelections}
	}
	return verdict
}
