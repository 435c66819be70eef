package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/product-options/internal/domain"
	pfirestore "github.com/hanko-field/product-options/internal/platform/firestore"
)

// OrderLineRepository stores order lines under orders/{orderId}/lines/{lineId}.
type OrderLineRepository struct {
	provider *pfirestore.Provider
}

type orderLineDocument struct {
	UserID    string            `firestore:"userId,omitempty"`
	ProductID string            `firestore:"productId"`
	Quantity  int               `firestore:"quantity"`
	Meta      map[string]string `firestore:"meta,omitempty"`
	CreatedAt time.Time         `firestore:"createdAt"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

func NewOrderLineRepository(provider *pfirestore.Provider) (*OrderLineRepository, error) {
	if provider == nil {
		return nil, errors.New("order line repository requires firestore provider")
	}
	return &OrderLineRepository{provider: provider}, nil
}

func (r *OrderLineRepository) lines(orderID string) *pfirestore.BaseRepository[orderLineDocument] {
	path := orderCollection + "/" + strings.TrimSpace(orderID) + "/" + orderLineCollection
	return pfirestore.NewBaseRepository[orderLineDocument](r.provider, path, nil, nil)
}

func (r *OrderLineRepository) Get(ctx context.Context, orderID, lineID string) (domain.OrderLineItem, error) {
	doc, err := r.lines(orderID).Get(ctx, lineID)
	if err != nil {
		return domain.OrderLineItem{}, err
	}
	return decodeOrderLine(orderID, doc), nil
}

func (r *OrderLineRepository) Upsert(ctx context.Context, line domain.OrderLineItem) error {
	if strings.TrimSpace(line.OrderID) == "" {
		return errors.New("order line repository: order id is required")
	}
	now := time.Now().UTC()
	createdAt := line.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := line.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return r.lines(line.OrderID).Set(ctx, line.ID, orderLineDocument{
		UserID:    line.UserID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		Meta:      line.Meta,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	})
}

func (r *OrderLineRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("order line repository: order id is required")
	}
	docs, err := r.lines(orderID).Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.OrderLineItem, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, decodeOrderLine(orderID, doc))
	}
	return lines, nil
}

func decodeOrderLine(orderID string, doc pfirestore.Document[orderLineDocument]) domain.OrderLineItem {
	return domain.OrderLineItem{
		ID:        doc.ID,
		OrderID:   orderID,
		UserID:    doc.Data.UserID,
		ProductID: doc.Data.ProductID,
		Quantity:  doc.Data.Quantity,
		Meta:      doc.Data.Meta,
		CreatedAt: doc.Data.CreatedAt.UTC(),
		UpdatedAt: doc.Data.UpdatedAt.UTC(),
	}
}
