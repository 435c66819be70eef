package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hanko-field/product-options/internal/repositories"
)

const (
	maxCatalogOptions      = 100
	maxCatalogOptionLength = 200
	maxProductIDLength     = 128
)

var catalogErrors = repoErrorSet{
	notFound:    ErrCatalogNotFound,
	conflict:    ErrCatalogUnavailable,
	unavailable: ErrCatalogUnavailable,
}

// CatalogServiceDeps wires the catalog store.
type CatalogServiceDeps struct {
	Catalogs repositories.CatalogRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type catalogService struct {
	catalogs repositories.CatalogRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalogs == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		catalogs: deps.Catalogs,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *catalogService) FindCatalog(ctx context.Context, productID string) (OptionCatalog, bool, error) {
	id, err := normaliseProductID(productID)
	if err != nil {
		return OptionCatalog{}, false, ErrCatalogInvalidInput
	}
	catalog, err := s.catalogs.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return OptionCatalog{}, false, nil
		}
		s.logger(ctx, "catalog.lookup.failed", map[string]any{
			"productID": id,
			"error":     err.Error(),
		})
		return OptionCatalog{}, false, catalogErrors.translate(err)
	}
	return catalog, true, nil
}

func (s *catalogService) SaveCatalog(ctx context.Context, cmd SaveCatalogCommand) (OptionCatalog, error) {
	id, err := normaliseProductID(cmd.ProductID)
	if err != nil {
		return OptionCatalog{}, err
	}
	options, err := normaliseOptions(cmd.Options, cmd.OptionsText)
	if err != nil {
		return OptionCatalog{}, err
	}
	if cmd.MinSelections < 0 || cmd.MaxSelections < 0 {
		return OptionCatalog{}, fmt.Errorf("%w: selection bounds must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.MinSelections > cmd.MaxSelections {
		return OptionCatalog{}, fmt.Errorf("%w: min_selections must not exceed max_selections", ErrCatalogInvalidInput)
	}

	catalog := OptionCatalog{
		ProductID:     id,
		Options:       options,
		MinSelections: cmd.MinSelections,
		MaxSelections: cmd.MaxSelections,
		UpdatedAt:     s.now(),
		UpdatedBy:     strings.TrimSpace(cmd.ActorID),
	}
	if err := s.catalogs.Save(ctx, catalog); err != nil {
		return OptionCatalog{}, catalogErrors.translate(err)
	}
	s.logger(ctx, "catalog.saved", map[string]any{
		"productID": id,
		"options":   len(options),
		"min":       catalog.MinSelections,
		"max":       catalog.MaxSelections,
		"actor":     catalog.UpdatedBy,
	})
	return catalog, nil
}

func (s *catalogService) DeleteCatalog(ctx context.Context, productID string) error {
	id, err := normaliseProductID(productID)
	if err != nil {
		return err
	}
	if err := s.catalogs.Delete(ctx, id); err != nil {
		return catalogErrors.translate(err)
	}
	s.logger(ctx, "catalog.deleted", map[string]any{"productID": id})
	return nil
}

func normaliseProductID(productID string) (string, error) {
	id := strings.TrimSpace(productID)
	if id == "" || len(id) > maxProductIDLength || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: product id is invalid", ErrCatalogInvalidInput)
	}
	return id, nil
}

// normaliseOptions merges list and textarea input, trimming values and dropping
// empties and duplicates. The first occurrence keeps its position.
func normaliseOptions(list []string, text string) ([]string, error) {
	candidates := append([]string(nil), list...)
	if strings.TrimSpace(text) != "" {
		candidates = append(candidates, strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")...)
	}

	seen := make(map[string]struct{}, len(candidates))
	options := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		option := strings.TrimSpace(candidate)
		if option == "" {
			continue
		}
		if utf8.RuneCountInString(option) > maxCatalogOptionLength {
			return nil, fmt.Errorf("%w: option %q exceeds %d characters", ErrCatalogInvalidInput, truncate(option, 32), maxCatalogOptionLength)
		}
		if _, dup := seen[option]; dup {
			continue
		}
		seen[option] = struct{}{}
		options = append(options, option)
	}
	if len(options) > maxCatalogOptions {
		return nil, fmt.Errorf("%w: at most %d options are allowed", ErrCatalogInvalidInput, maxCatalogOptions)
	}
	return options, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
