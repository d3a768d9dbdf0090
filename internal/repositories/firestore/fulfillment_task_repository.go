package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const fulfillmentTasksCollection = "fulfillmentTasks"

// FulfillmentTaskRepository stores one dispatch retry record per order.
type FulfillmentTaskRepository struct {
	base *pfirestore.Collection[fulfillmentTaskDocument]
}

// NewFulfillmentTaskRepository constructs a Firestore-backed fulfillment task repository.
func NewFulfillmentTaskRepository(provider *pfirestore.Provider) (*FulfillmentTaskRepository, error) {
	if provider == nil {
		return nil, errors.New("fulfillment task repository requires firestore provider")
	}
	return &FulfillmentTaskRepository{
		base: pfirestore.NewCollection[fulfillmentTaskDocument](provider, fulfillmentTasksCollection),
	}, nil
}

// Get loads the task of an order.
func (r *FulfillmentTaskRepository) Get(ctx context.Context, orderID string) (domain.FulfillmentTask, error) {
	if r == nil || r.base == nil {
		return domain.FulfillmentTask{}, errors.New("fulfillment task repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.FulfillmentTask{}, errors.New("fulfillment task repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.FulfillmentTask{}, err
	}
	return decodeFulfillmentTask(doc.ID, doc.Data), nil
}

// Save upserts the task.
func (r *FulfillmentTaskRepository) Save(ctx context.Context, task domain.FulfillmentTask) error {
	if r == nil || r.base == nil {
		return errors.New("fulfillment task repository not initialised")
	}
	orderID := strings.TrimSpace(task.OrderID)
	if orderID == "" {
		return errors.New("fulfillment task repository: order id is required")
	}
	return r.base.Set(ctx, orderID, fulfillmentTaskDocument{
		OrderNumber:   task.OrderNumber,
		Attempt:       task.Attempt,
		Status:        string(task.Status),
		NextAttemptAt: task.NextAttemptAt.UTC(),
		LeaseUntil:    utcPtr(task.LeaseUntil),
		LastError:     task.LastError,
		CreatedAt:     task.CreatedAt.UTC(),
		UpdatedAt:     task.UpdatedAt.UTC(),
	})
}

// ListDue returns due scheduled tasks and in-flight tasks whose lease lapsed.
func (r *FulfillmentTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FulfillmentTask, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("fulfillment task repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	now = now.UTC()

	scheduled, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.FulfillmentTaskScheduled)).
			Where("nextAttemptAt", "<=", now).
			OrderBy("nextAttemptAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	stale, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.FulfillmentTaskInFlight)).
			Where("leaseUntil", "<=", now).
			OrderBy("leaseUntil", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.FulfillmentTask, 0, len(scheduled)+len(stale))
	for _, doc := range scheduled {
		tasks = append(tasks, decodeFulfillmentTask(doc.ID, doc.Data))
	}
	for _, doc := range stale {
		tasks = append(tasks, decodeFulfillmentTask(doc.ID, doc.Data))
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].NextAttemptAt.Before(tasks[j].NextAttemptAt)
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

type fulfillmentTaskDocument struct {
	OrderNumber   string     `firestore:"orderNumber"`
	Attempt       int        `firestore:"attempt"`
	Status        string     `firestore:"status"`
	NextAttemptAt time.Time  `firestore:"nextAttemptAt"`
	LeaseUntil    *time.Time `firestore:"leaseUntil,omitempty"`
	LastError     string     `firestore:"lastError,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func decodeFulfillmentTask(orderID string, doc fulfillmentTaskDocument) domain.FulfillmentTask {
	return domain.FulfillmentTask{
		OrderID:       orderID,
		OrderNumber:   doc.OrderNumber,
		Attempt:       doc.Attempt,
		Status:        domain.FulfillmentTaskStatus(doc.Status),
		NextAttemptAt: doc.NextAttemptAt.UTC(),
		LeaseUntil:    utcPtr(doc.LeaseUntil),
		LastError:     doc.LastError,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
}

var _ repositories.FulfillmentTaskRepository = (*FulfillmentTaskRepository)(nil)
