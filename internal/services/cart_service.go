package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/selection"
)

const defaultMaxTransportBytes = 16 << 10

var cartErrors = repoErrorSet{
	notFound:    ErrCartNotFound,
	conflict:    ErrCartConflict,
	unavailable: ErrCartUnavailable,
}

// CartServiceDeps wires the cart store and selection rendering.
type CartServiceDeps struct {
	CartLines repositories.CartLineRepository
	// Catalogs is required when StrictCatalog is set.
	Catalogs  CatalogService
	Localizer *selection.Localizer
	// StrictCatalog re-validates attached selections against the live catalog.
	StrictCatalog     bool
	MaxTransportBytes int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(context.Context, string, map[string]any)
}

type cartService struct {
	lines        repositories.CartLineRepository
	catalogs     CatalogService
	localizer    *selection.Localizer
	strict       bool
	maxTransport int
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.CartLines == nil {
		return nil, errors.New("cart service: cart line repository is required")
	}
	if deps.StrictCatalog && deps.Catalogs == nil {
		return nil, errors.New("cart service: catalog service is required in strict mode")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	localizer := deps.Localizer
	if localizer == nil {
		localizer = selection.NewLocalizer()
	}
	maxTransport := deps.MaxTransportBytes
	if maxTransport <= 0 {
		maxTransport = defaultMaxTransportBytes
	}
	return &cartService{
		lines:        deps.CartLines,
		catalogs:     deps.Catalogs,
		localizer:    localizer,
		strict:       deps.StrictCatalog,
		maxTransport: maxTransport,
		now:          func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

// AddItem stores a cart line. A well-formed transport value is attached verbatim as the
// line's extra options; a missing or malformed one attaches nothing and does not fail the add.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartLine, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return CartLine{}, ErrCartInvalidInput
	}
	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return CartLine{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	line := CartLineItem{
		ID:        s.newID(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   s.now(),
	}
	if cmd.HasTransport {
		line.ExtraOptions = s.attach(ctx, productID, cmd.TransportValue)
	}
	if s.strict && len(line.ExtraOptions) > 0 {
		if err := s.validateAgainstCatalog(ctx, productID, line.ExtraOptions); err != nil {
			return CartLine{}, err
		}
	}

	if err := s.lines.Insert(ctx, line); err != nil {
		s.logger(ctx, "cart.item.insert.failed", map[string]any{
			"userID":    userID,
			"productID": productID,
			"error":     err.Error(),
		})
		return CartLine{}, cartErrors.translate(err)
	}
	s.logger(ctx, "cart.item.added", map[string]any{
		"userID":       userID,
		"productID":    productID,
		"lineID":       line.ID,
		"extraOptions": line.HasExtraOptions(),
	})
	return s.decorate(line, cmd.Locale), nil
}

func (s *cartService) ListItems(ctx context.Context, userID string, locale string) ([]CartLine, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrCartInvalidInput
	}
	items, err := s.lines.ListByUser(ctx, uid)
	if err != nil {
		return nil, cartErrors.translate(err)
	}
	lines := make([]CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, s.decorate(item, locale))
	}
	return lines, nil
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, lineID string) error {
	uid := strings.TrimSpace(userID)
	id := strings.TrimSpace(lineID)
	if uid == "" || id == "" {
		return ErrCartInvalidInput
	}
	if err := s.lines.Delete(ctx, uid, id); err != nil {
		return cartErrors.translate(err)
	}
	return nil
}

// RenderForDisplay returns the labelled "{option} x {quantity}" entry shown in the cart and
// at checkout. ok is false when the line carries no options.
func (s *cartService) RenderForDisplay(line CartLineItem, locale string) (DisplayEntry, bool) {
	summary, ok := selection.Render(line.ExtraOptions)
	if !ok {
		return DisplayEntry{}, false
	}
	return DisplayEntry{Label: s.localizer.DisplayLabel(locale), Value: summary}, true
}

func (s *cartService) decorate(line CartLineItem, locale string) CartLine {
	out := CartLine{Item: line}
	if entry, ok := s.RenderForDisplay(line, locale); ok {
		out.Display = &entry
	}
	return out
}

func (s *cartService) attach(ctx context.Context, productID, raw string) Selection {
	if len(raw) > s.maxTransport {
		s.logger(ctx, "cart.extra_options.discarded", map[string]any{
			"productID": productID,
			"reason":    "too_large",
			"bytes":     len(raw),
		})
		return nil
	}
	sel, ok := selection.Decode(raw)
	if !ok {
		s.logger(ctx, "cart.extra_options.discarded", map[string]any{
			"productID": productID,
			"reason":    "malformed",
		})
		return nil
	}
	return sel
}

func (s *cartService) validateAgainstCatalog(ctx context.Context, productID string, sel Selection) error {
	catalog, found, err := s.catalogs.FindCatalog(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogInvalidInput) {
			return ErrCartInvalidInput
		}
		return ErrCartUnavailable
	}
	if !found || !catalog.PickerEnabled() {
		return fmt.Errorf("%w: product offers no extra options", ErrCartInvalidInput)
	}
	for _, item := range sel {
		if item.Quantity <= 0 || !catalog.Contains(item.Option) {
			return fmt.Errorf("%w: option %q is not offered", ErrCartInvalidInput, item.Option)
		}
	}
	if verdict := selection.Evaluate(catalog, sel.Total()); !verdict.CheckoutEnabled {
		return fmt.Errorf("%w: selection total %d is out of bounds", ErrCartInvalidInput, verdict.Total)
	}
	return nil
}
