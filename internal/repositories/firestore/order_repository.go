package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"

	maxInFilterValues = 10
)

// OrderRepository persists order aggregates and their number reservations in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[orderDocument]
	numbers  *pfirestore.Collection[orderNumberDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		numbers:  pfirestore.NewCollection[orderNumberDocument](provider, orderNumbersCollection),
	}, nil
}

// Insert creates the order document together with its order number reservation. Both writes
// use create semantics so a concurrent reservation of the same number surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	number := strings.TrimSpace(order.Number)
	if orderID == "" || number == "" {
		return errors.New("order repository: order id and number are required")
	}

	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.numbers.Create(ctx, number, orderNumberDocument{OrderID: orderID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return r.base.Create(ctx, orderID, encodeOrder(order))
	})
}

// Update overwrites the aggregate. Inside a unit of work the write joins the transaction.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Set(ctx, orderID, encodeOrder(order))
}

// FindByID loads an order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByNumber loads an order by its human readable number.
func (r *OrderRepository) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	return r.findOne(ctx, "number", number)
}

// FindByShipmentRef resolves an order from whichever shipment reference the provider sent.
func (r *OrderRepository) FindByShipmentRef(ctx context.Context, ref repositories.ShipmentRef) (domain.Order, error) {
	if number := strings.TrimSpace(ref.OrderNumber); number != "" {
		order, err := r.findOne(ctx, "number", number)
		if err == nil || !isNotFound(err) {
			return order, err
		}
	}
	if shipmentID := strings.TrimSpace(ref.ShipmentID); shipmentID != "" {
		order, err := r.findOne(ctx, "shipment.shipmentId", shipmentID)
		if err == nil || !isNotFound(err) {
			return order, err
		}
	}
	if tracking := strings.TrimSpace(ref.TrackingCode); tracking != "" {
		return r.findOne(ctx, "shipment.trackingCode", tracking)
	}
	return domain.Order{}, notFoundError(ordersCollection+".find_by_shipment", "no shipment reference matched")
}

// NumberTaken reports whether the order number reservation document exists.
func (r *OrderRepository) NumberTaken(ctx context.Context, number string) (bool, error) {
	if r == nil || r.numbers == nil {
		return false, errors.New("order repository not initialised")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return false, errors.New("order repository: order number is required")
	}
	return r.numbers.Exists(ctx, number)
}

// List returns orders ordered by creation time, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := pagination.ClampPageSize(filter.Pagination.PageSize, pagination.Options{})
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		createdAt, docID, err := pagination.DecodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{createdAt, docID}
	}

	statuses := normaliseStatuses(filter.Status)
	userID := strings.TrimSpace(filter.UserID)
	paymentStatus := strings.ToLower(strings.TrimSpace(filter.PaymentStatus))
	shipmentStatus := strings.ToLower(strings.TrimSpace(filter.ShipmentStatus))

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			if len(statuses) > maxInFilterValues {
				statuses = statuses[:maxInFilterValues]
			}
			q = q.Where("status", "in", statuses)
		}
		if paymentStatus != "" {
			q = q.Where("payment.status", "==", paymentStatus)
		}
		if shipmentStatus != "" {
			q = q.Where("shipment.status", "==", shipmentStatus)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextToken, err = pagination.EncodeTimeCursor(last.Data.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) findOne(ctx context.Context, field string, value string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError(ordersCollection+".find", fmt.Sprintf("order with %s %q not found", field, value))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

func normaliseStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
