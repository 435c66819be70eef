package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/selection"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	OptionCatalog        = domain.OptionCatalog
	Selection            = domain.Selection
	SelectionItem        = domain.SelectionItem
	CartLineItem         = domain.CartLineItem
	OrderLineItem        = domain.OrderLineItem
	DisplayEntry         = domain.DisplayEntry
	SelectionFrozenEvent = domain.SelectionFrozenEvent
	SystemHealthReport   = domain.SystemHealthReport
)

// CatalogService manages per-product option catalogs.
type CatalogService interface {
	// FindCatalog reports found=false when the product has no configuration.
	FindCatalog(ctx context.Context, productID string) (OptionCatalog, bool, error)
	SaveCatalog(ctx context.Context, cmd SaveCatalogCommand) (OptionCatalog, error)
	DeleteCatalog(ctx context.Context, productID string) error
}

// SelectionService replays picker interactions server-side with the same rules as the storefront.
type SelectionService interface {
	Apply(ctx context.Context, cmd ApplySelectionCommand) (ApplySelectionResult, error)
	Checkout(ctx context.Context, cmd CheckoutSelectionCommand) (CheckoutSelectionResult, error)
}

// CartService attaches selections to cart lines and renders them for the cart and checkout views.
type CartService interface {
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartLine, error)
	ListItems(ctx context.Context, userID string, locale string) ([]CartLine, error)
	RemoveItem(ctx context.Context, userID string, lineID string) error
	RenderForDisplay(line CartLineItem, locale string) (DisplayEntry, bool)
}

// OrderService freezes selections onto order lines and renders the frozen values.
type OrderService interface {
	FreezeLine(ctx context.Context, cmd FreezeLineCommand) (FreezeResult, error)
	FreezeOrder(ctx context.Context, cmd FreezeOrderCommand) ([]FreezeResult, error)
	ListLines(ctx context.Context, cmd ListOrderLinesCommand) ([]OrderLine, error)
	RenderForOrder(line OrderLineItem, locale string) (DisplayEntry, bool)
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SelectionEventPublisher emits selection lifecycle events for downstream consumers.
type SelectionEventPublisher interface {
	PublishSelectionFrozen(ctx context.Context, event SelectionFrozenEvent) (string, error)
}

// SaveCatalogCommand carries an admin catalog update. Options may be given as a list,
// as newline separated text, or both.
type SaveCatalogCommand struct {
	ProductID     string
	Options       []string
	OptionsText   string
	MinSelections int
	MaxSelections int
	ActorID       string
}

// SelectionActionType identifies the picker interaction to replay.
type SelectionActionType string

const (
	SelectionActionAdd    SelectionActionType = "add"
	SelectionActionRemove SelectionActionType = "remove"
	// SelectionActionNone evaluates the current selection without changing it.
	SelectionActionNone SelectionActionType = ""
)

// SelectionAction is a single Add or Remove.
type SelectionAction struct {
	Type     SelectionActionType
	Option   string
	Quantity int
	Index    int
}

type ApplySelectionCommand struct {
	ProductID string
	Selection Selection
	Action    SelectionAction
	Locale    string
}

// ApplySelectionResult is the builder state after the action. NoticeText is localized.
type ApplySelectionResult struct {
	Selection  Selection
	Verdict    selection.Verdict
	Input      selection.Input
	Rejected   bool
	Ignored    bool
	Notice     *selection.Notice
	NoticeText string
}

type CheckoutSelectionCommand struct {
	ProductID string
	Selection Selection
	Locale    string
}

// CheckoutSelectionResult reports whether add-to-cart may proceed. TransportValue is
// set only when Allowed is true.
type CheckoutSelectionResult struct {
	Allowed        bool
	Verdict        selection.Verdict
	NoticeText     string
	TransportValue string
}

// AddCartItemCommand is an add-to-cart request. TransportValue is the raw
// extra_options_data field; HasTransport is false when the field was absent.
type AddCartItemCommand struct {
	UserID         string
	ProductID      string
	Quantity       int
	TransportValue string
	HasTransport   bool
	Locale         string
}

// CartLine is a cart line together with its rendered extra options entry.
type CartLine struct {
	Item    CartLineItem
	Display *DisplayEntry
}

// FreezeLineCommand freezes one order line. The selection comes from CartLineID when
// set, otherwise from ExtraOptions.
type FreezeLineCommand struct {
	OrderID      string
	LineID       string
	UserID       string
	ProductID    string
	Quantity     int
	CartLineID   string
	ExtraOptions Selection
}

type FreezeOrderCommand struct {
	OrderID string
	UserID  string
	Lines   []FreezeLineCommand
}

// FreezeResult reports the outcome for one line. Frozen is false when nothing was
// written, either because the selection was empty or because the line was already frozen.
type FreezeResult struct {
	OrderID       string
	LineID        string
	Frozen        bool
	AlreadyFrozen bool
	Summary       string
	Total         int
	EventID       string
	FrozenAt      time.Time
}

type ListOrderLinesCommand struct {
	OrderID string
	ActorID string
	IsStaff bool
	Locale  string
}

// OrderLine is an order line together with its frozen extra options entry.
type OrderLine struct {
	Item    OrderLineItem
	Display *DisplayEntry
}
