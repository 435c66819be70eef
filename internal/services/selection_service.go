package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/product-options/internal/selection"
)

const selectionMeterName = "github.com/hanko-field/product-options/internal/services"

// SelectionServiceDeps wires the catalog lookup and notice localizer.
type SelectionServiceDeps struct {
	Catalogs  CatalogService
	Localizer *selection.Localizer
	Meter     metric.Meter
	Logger    func(context.Context, string, map[string]any)
}

type selectionService struct {
	catalogs  CatalogService
	localizer *selection.Localizer
	verdicts  metric.Int64Counter
	logger    func(context.Context, string, map[string]any)
}

var _ SelectionService = (*selectionService)(nil)

// NewSelectionService constructs a SelectionService.
func NewSelectionService(deps SelectionServiceDeps) (SelectionService, error) {
	if deps.Catalogs == nil {
		return nil, errors.New("selection service: catalog service is required")
	}
	localizer := deps.Localizer
	if localizer == nil {
		localizer = selection.NewLocalizer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(selectionMeterName)
	}
	verdicts, err := meter.Int64Counter("selection.checkout.verdicts",
		metric.WithDescription("Count of checkout interceptions by outcome"),
	)
	if err != nil {
		logger(context.Background(), "selection.metrics.register_failed", map[string]any{"error": err.Error()})
	}
	return &selectionService{
		catalogs:  deps.Catalogs,
		localizer: localizer,
		verdicts:  verdicts,
		logger:    logger,
	}, nil
}

func (s *selectionService) Apply(ctx context.Context, cmd ApplySelectionCommand) (ApplySelectionResult, error) {
	builder, err := s.restore(ctx, cmd.ProductID, cmd.Selection)
	if err != nil {
		return ApplySelectionResult{}, err
	}

	result := ApplySelectionResult{}
	switch cmd.Action.Type {
	case SelectionActionAdd:
		builder.SetInput(cmd.Action.Option, cmd.Action.Quantity)
		added := builder.AddInput()
		result.Ignored = added.Ignored
		result.Rejected = !added.Accepted && !added.Ignored
		result.Notice = added.Notice
	case SelectionActionRemove:
		result.Notice = builder.Remove(cmd.Action.Index).Notice
	case SelectionActionNone:
		result.Notice = builder.Evaluate().Notice
	default:
		return ApplySelectionResult{}, ErrSelectionInvalidInput
	}

	result.Selection = builder.Items()
	result.Verdict = builder.Verdict()
	result.Input = builder.Input()
	if result.Notice != nil {
		result.NoticeText = s.localizer.Notice(cmd.Locale, *result.Notice)
	}
	return result, nil
}

func (s *selectionService) Checkout(ctx context.Context, cmd CheckoutSelectionCommand) (CheckoutSelectionResult, error) {
	builder, err := s.restore(ctx, cmd.ProductID, cmd.Selection)
	if err != nil {
		return CheckoutSelectionResult{}, err
	}

	verdict, allowed := builder.InterceptCheckout()
	result := CheckoutSelectionResult{Allowed: allowed, Verdict: verdict}
	s.recordVerdict(ctx, verdict)

	if !allowed {
		if verdict.Notice != nil {
			result.NoticeText = s.localizer.Notice(cmd.Locale, *verdict.Notice)
		}
		return result, nil
	}
	value, err := builder.Serialize()
	if err != nil {
		s.logger(ctx, "selection.serialize.failed", map[string]any{
			"productID": cmd.ProductID,
			"error":     err.Error(),
		})
		return CheckoutSelectionResult{}, ErrSelectionUnavailable
	}
	result.TransportValue = value
	return result, nil
}

func (s *selectionService) restore(ctx context.Context, productID string, items Selection) (*selection.Builder, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, ErrSelectionInvalidInput
	}
	catalog, found, err := s.catalogs.FindCatalog(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogInvalidInput) {
			return nil, ErrSelectionInvalidInput
		}
		return nil, ErrSelectionUnavailable
	}
	if !found || !catalog.PickerEnabled() {
		return nil, ErrSelectionNotConfigured
	}
	return selection.Restore(catalog, items), nil
}

func (s *selectionService) recordVerdict(ctx context.Context, verdict selection.Verdict) {
	if s.verdicts == nil {
		return
	}
	outcome := "allowed"
	if verdict.Notice != nil {
		outcome = string(verdict.Notice.Kind)
	}
	s.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
