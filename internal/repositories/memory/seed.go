package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/product-options/internal/domain"
)

// seedFile is the YAML layout accepted by LoadSeed:
//
//	catalogs:
//	  - product_id: mug
//	    options: [Gift Wrap, Insurance]
//	    min_selections: 2
//	    max_selections: 5
type seedFile struct {
	Catalogs []seedCatalog `yaml:"catalogs"`
}

type seedCatalog struct {
	ProductID     string   `yaml:"product_id"`
	Options       []string `yaml:"options"`
	MinSelections int      `yaml:"min_selections"`
	MaxSelections int      `yaml:"max_selections"`
}

// LoadSeed reads catalogs from r into the registry and returns how many were stored.
func (r *Registry) LoadSeed(ctx context.Context, in io.Reader) (int, error) {
	var seed seedFile
	if err := yaml.NewDecoder(in).Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("memory seed: decode: %w", err)
	}

	now := time.Now().UTC()
	for i, entry := range seed.Catalogs {
		productID := strings.TrimSpace(entry.ProductID)
		if productID == "" {
			return i, fmt.Errorf("memory seed: catalog %d missing product_id", i)
		}
		if entry.MinSelections < 0 || entry.MaxSelections < entry.MinSelections {
			return i, fmt.Errorf("memory seed: catalog %s has invalid bounds %d..%d", productID, entry.MinSelections, entry.MaxSelections)
		}
		options := make([]string, 0, len(entry.Options))
		for _, option := range entry.Options {
			if trimmed := strings.TrimSpace(option); trimmed != "" {
				options = append(options, trimmed)
			}
		}
		catalog := domain.OptionCatalog{
			ProductID:     productID,
			Options:       options,
			MinSelections: entry.MinSelections,
			MaxSelections: entry.MaxSelections,
			UpdatedAt:     now,
			UpdatedBy:     "seed",
		}
		if err := r.Catalogs().Save(ctx, catalog); err != nil {
			return i, err
		}
	}
	return len(seed.Catalogs), nil
}

// LoadSeedFile is LoadSeed for a file path.
func (r *Registry) LoadSeedFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("memory seed: %w", err)
	}
	defer file.Close()
	return r.LoadSeed(ctx, file)
}
