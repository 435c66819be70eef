package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/selection"
)

const (
	defaultOrderMetaKey    = "extra_options"
	selectionEventIDPrefix = "sev_"
)

var orderErrors = repoErrorSet{
	notFound:    ErrOrderNotFound,
	conflict:    ErrOrderConflict,
	unavailable: ErrOrderUnavailable,
}

// OrderServiceDeps wires the stores used to freeze selections onto order lines.
type OrderServiceDeps struct {
	OrderLines repositories.OrderLineRepository
	CartLines  repositories.CartLineRepository
	UnitOfWork repositories.UnitOfWork
	Localizer  *selection.Localizer
	// MetaKey is the order line metadata key holding the frozen summary.
	MetaKey     string
	Events      SelectionEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderLineRepository
	cart       repositories.CartLineRepository
	unitOfWork repositories.UnitOfWork
	localizer  *selection.Localizer
	metaKey    string
	events     SelectionEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.OrderLines == nil {
		return nil, errors.New("order service: order line repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
	metaKey := strings.TrimSpace(deps.MetaKey)
	if metaKey == "" {
		metaKey = defaultOrderMetaKey
	}
	return &orderService{
		orders:     deps.OrderLines,
		cart:       deps.CartLines,
		unitOfWork: unit,
		localizer:  localizer,
		metaKey:    metaKey,
		events:     deps.Events,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// FreezeLine writes the rendered selection onto the order line under the metadata key.
// The presence check and the write share one unit of work, so a retried call never
// writes twice; it reports AlreadyFrozen instead.
func (s *orderService) FreezeLine(ctx context.Context, cmd FreezeLineCommand) (FreezeResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	lineID := strings.TrimSpace(cmd.LineID)
	userID := strings.TrimSpace(cmd.UserID)
	cartLineID := strings.TrimSpace(cmd.CartLineID)
	if orderID == "" || lineID == "" || strings.ContainsAny(orderID+lineID, "/") {
		return FreezeResult{}, ErrOrderInvalidInput
	}
	if cartLineID != "" && (userID == "" || s.cart == nil) {
		return FreezeResult{}, fmt.Errorf("%w: cart line lookup requires a user and cart store", ErrOrderInvalidInput)
	}

	result := FreezeResult{OrderID: orderID, LineID: lineID}
	var frozenLine OrderLineItem
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		existing, exists, err := s.loadLine(txCtx, orderID, lineID)
		if err != nil {
			return err
		}

		sel := cmd.ExtraOptions
		if cartLineID != "" {
			source, err := s.cart.Get(txCtx, userID, cartLineID)
			if err != nil {
				if isRepoNotFound(err) {
					return fmt.Errorf("%w: cart line %s", ErrOrderNotFound, cartLineID)
				}
				return err
			}
			sel = source.ExtraOptions
		}

		if _, ok := existing.MetaValue(s.metaKey); ok {
			result.AlreadyFrozen = true
			return nil
		}

		now := s.clock()
		line := existing
		if !exists {
			line = OrderLineItem{
				ID:        lineID,
				OrderID:   orderID,
				UserID:    userID,
				ProductID: strings.TrimSpace(cmd.ProductID),
				Quantity:  cmd.Quantity,
				CreatedAt: now,
			}
		}

		summary, ok := selection.Render(sel)
		if !ok {
			if exists {
				return nil
			}
			line.UpdatedAt = now
			return s.orders.Upsert(txCtx, line)
		}

		meta := maps.Clone(line.Meta)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[s.metaKey] = summary
		line.Meta = meta
		line.UpdatedAt = now
		if err := s.orders.Upsert(txCtx, line); err != nil {
			return err
		}
		result.Frozen = true
		result.Summary = summary
		result.Total = sel.Total()
		result.FrozenAt = now
		frozenLine = line
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.selection.freeze.failed", map[string]any{
			"orderID": orderID,
			"lineID":  lineID,
			"error":   err.Error(),
		})
		return FreezeResult{}, s.translate(err)
	}

	if result.Frozen {
		result.EventID = s.publishFrozen(ctx, frozenLine, result)
		s.logger(ctx, "order.selection.frozen", map[string]any{
			"orderID": orderID,
			"lineID":  lineID,
		})
	}
	return result, nil
}

// FreezeOrder freezes every line of an order. Each line runs in its own unit of work;
// results for lines processed before a failure are returned with the error.
func (s *orderService) FreezeOrder(ctx context.Context, cmd FreezeOrderCommand) ([]FreezeResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || len(cmd.Lines) == 0 {
		return nil, ErrOrderInvalidInput
	}
	results := make([]FreezeResult, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.OrderID) == "" {
			line.OrderID = orderID
		}
		if strings.TrimSpace(line.UserID) == "" {
			line.UserID = cmd.UserID
		}
		if strings.TrimSpace(line.OrderID) != orderID {
			return results, fmt.Errorf("%w: line %s belongs to another order", ErrOrderInvalidInput, line.LineID)
		}
		result, err := s.FreezeLine(ctx, line)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *orderService) ListLines(ctx context.Context, cmd ListOrderLinesCommand) ([]OrderLine, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if orderID == "" {
		return nil, ErrOrderInvalidInput
	}
	items, err := s.orders.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.translate(err)
	}
	if len(items) == 0 {
		return nil, ErrOrderNotFound
	}
	if !cmd.IsStaff {
		for _, item := range items {
			if actorID == "" || item.UserID != actorID {
				return nil, ErrOrderForbidden
			}
		}
	}

	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		line := OrderLine{Item: item}
		if entry, ok := s.RenderForOrder(item, cmd.Locale); ok {
			line.Display = &entry
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// RenderForOrder returns the frozen summary as stored. It never recomputes from the catalog.
func (s *orderService) RenderForOrder(line OrderLineItem, locale string) (DisplayEntry, bool) {
	value, ok := line.MetaValue(s.metaKey)
	if !ok || value == "" {
		return DisplayEntry{}, false
	}
	return DisplayEntry{Label: s.localizer.DisplayLabel(locale), Value: value}, true
}

func (s *orderService) loadLine(ctx context.Context, orderID, lineID string) (OrderLineItem, bool, error) {
	line, err := s.orders.Get(ctx, orderID, lineID)
	if err != nil {
		if isRepoNotFound(err) {
			return OrderLineItem{}, false, nil
		}
		return OrderLineItem{}, false, err
	}
	return line, true, nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) translate(err error) error {
	for _, sentinel := range []error{ErrOrderInvalidInput, ErrOrderNotFound, ErrOrderForbidden, ErrOrderConflict, ErrOrderUnavailable} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return orderErrors.translate(err)
}

func (s *orderService) publishFrozen(ctx context.Context, line OrderLineItem, result FreezeResult) string {
	event := SelectionFrozenEvent{
		ID:         selectionEventIDPrefix + s.newID(),
		OrderID:    line.OrderID,
		LineItemID: line.ID,
		ProductID:  line.ProductID,
		UserID:     line.UserID,
		MetaKey:    s.metaKey,
		Summary:    result.Summary,
		Total:      result.Total,
		OccurredAt: result.FrozenAt,
	}
	if s.events == nil {
		return event.ID
	}
	if _, err := s.events.PublishSelectionFrozen(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    "selection.frozen",
			"order":   event.OrderID,
			"line":    event.LineItemID,
			"eventID": event.ID,
			"error":   err.Error(),
		})
	}
	return event.ID
}
