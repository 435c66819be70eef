package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/product-options/internal/domain"
	pfirestore "github.com/hanko-field/product-options/internal/platform/firestore"
)

// CatalogRepository stores one document per product under option_catalogs/{productId}.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[catalogDocument]
}

type catalogDocument struct {
	Options       []string  `firestore:"options"`
	MinSelections int       `firestore:"minSelections"`
	MaxSelections int       `firestore:"maxSelections"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
	UpdatedBy     string    `firestore:"updatedBy,omitempty"`
}

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		base: pfirestore.NewBaseRepository[catalogDocument](provider, catalogCollection, nil, nil),
	}, nil
}

func (r *CatalogRepository) Get(ctx context.Context, productID string) (domain.OptionCatalog, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.OptionCatalog{}, err
	}
	return domain.OptionCatalog{
		ProductID:     doc.ID,
		Options:       append([]string(nil), doc.Data.Options...),
		MinSelections: doc.Data.MinSelections,
		MaxSelections: doc.Data.MaxSelections,
		UpdatedAt:     doc.Data.UpdatedAt.UTC(),
		UpdatedBy:     doc.Data.UpdatedBy,
	}, nil
}

func (r *CatalogRepository) Save(ctx context.Context, catalog domain.OptionCatalog) error {
	options := catalog.Options
	if options == nil {
		options = []string{}
	}
	updatedAt := catalog.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.base.Set(ctx, strings.TrimSpace(catalog.ProductID), catalogDocument{
		Options:       options,
		MinSelections: catalog.MinSelections,
		MaxSelections: catalog.MaxSelections,
		UpdatedAt:     updatedAt,
		UpdatedBy:     catalog.UpdatedBy,
	})
}

func (r *CatalogRepository) Delete(ctx context.Context, productID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(productID), firestore.Exists)
}
