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

// CartLineRepository stores cart lines under carts/{userId}/items/{lineId}.
type CartLineRepository struct {
	provider *pfirestore.Provider
}

type cartLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	// HasExtraOptions keeps an explicit empty selection apart from an absent one.
	HasExtraOptions bool                    `firestore:"hasExtraOptions"`
	ExtraOptions    []selectionItemDocument `firestore:"extraOptions,omitempty"`
	AddedAt         time.Time               `firestore:"addedAt"`
}

type selectionItemDocument struct {
	Option   string `firestore:"option"`
	Quantity int    `firestore:"quantity"`
}

func NewCartLineRepository(provider *pfirestore.Provider) (*CartLineRepository, error) {
	if provider == nil {
		return nil, errors.New("cart line repository requires firestore provider")
	}
	return &CartLineRepository{provider: provider}, nil
}

func (r *CartLineRepository) items(userID string) *pfirestore.BaseRepository[cartLineDocument] {
	path := cartCollection + "/" + strings.TrimSpace(userID) + "/" + cartItemsCollection
	return pfirestore.NewBaseRepository[cartLineDocument](r.provider, path, nil, nil)
}

func (r *CartLineRepository) Insert(ctx context.Context, line domain.CartLineItem) error {
	if strings.TrimSpace(line.UserID) == "" {
		return errors.New("cart line repository: user id is required")
	}
	doc := cartLineDocument{
		ProductID:       line.ProductID,
		Quantity:        line.Quantity,
		HasExtraOptions: line.ExtraOptions != nil,
		AddedAt:         line.AddedAt.UTC(),
	}
	for _, item := range line.ExtraOptions {
		doc.ExtraOptions = append(doc.ExtraOptions, selectionItemDocument{Option: item.Option, Quantity: item.Quantity})
	}
	return r.items(line.UserID).Create(ctx, line.ID, doc)
}

func (r *CartLineRepository) Get(ctx context.Context, userID, lineID string) (domain.CartLineItem, error) {
	doc, err := r.items(userID).Get(ctx, lineID)
	if err != nil {
		return domain.CartLineItem{}, err
	}
	return decodeCartLine(userID, doc), nil
}

func (r *CartLineRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("cart line repository: user id is required")
	}
	docs, err := r.items(userID).Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("addedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	lines := make([]domain.CartLineItem, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, decodeCartLine(userID, doc))
	}
	return lines, nil
}

func (r *CartLineRepository) Delete(ctx context.Context, userID, lineID string) error {
	return r.items(userID).Delete(ctx, lineID, firestore.Exists)
}

func decodeCartLine(userID string, doc pfirestore.Document[cartLineDocument]) domain.CartLineItem {
	line := domain.CartLineItem{
		ID:        doc.ID,
		UserID:    userID,
		ProductID: doc.Data.ProductID,
		Quantity:  doc.Data.Quantity,
		AddedAt:   doc.Data.AddedAt.UTC(),
	}
	if doc.Data.HasExtraOptions {
		line.ExtraOptions = make(domain.Selection, 0, len(doc.Data.ExtraOptions))
		for _, item := range doc.Data.ExtraOptions {
			line.ExtraOptions = append(line.ExtraOptions, domain.SelectionItem{Option: item.Option, Quantity: item.Quantity})
		}
	}
	return line
}
