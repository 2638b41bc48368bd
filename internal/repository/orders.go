package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/store"

	"go.mongodb.org/mongo-driver/bson"
)

const OrdersCollection = "orders"

// Order document field names, as written by the bson tags of model.Order.
const (
	FieldItems          = "items"
	FieldStatus         = "status"
	FieldClaimedBy      = "claimed_by"
	FieldClaimedByName  = "claimed_by_name"
	FieldRejectionCount = "rejection_count"
	FieldLastRejectedBy = "last_rejected_by"
	FieldLastRejectedAt = "last_rejected_at"
	FieldHasNewItems    = "has_new_items"
	FieldSubtotal       = "subtotal"
	FieldTotal          = "total"
	FieldIsPaid         = "is_paid"
	FieldUpdatedAt      = "updated_at"
	FieldDeliveredAt    = "delivered_at"
	FieldRevision       = "revision"
)

var ErrInvalidDocument = errors.New("invalid order document")

type OrderRepository struct {
	store store.Store
	log   *slog.Logger
}

func NewOrderRepository(s store.Store, log *slog.Logger) *OrderRepository {
	return &OrderRepository{store: s, log: log}
}

func liveQuery() store.Query {
	in := make([]any, 0, len(model.LiveStatuses))
	for _, s := range model.LiveStatuses {
		in = append(in, string(s))
	}
	return store.Query{
		Collection: OrdersCollection,
		Where:      []store.Cond{{Field: FieldStatus, In: in}},
	}
}

// Create stores a new order and returns it with the store-assigned id.
func (r *OrderRepository) Create(ctx context.Context, o model.Order) (*model.Order, error) {
	o.ID = ""
	id, err := r.store.Append(ctx, OrdersCollection, o)
	if err != nil {
		return nil, err
	}
	o.ID = id
	return &o, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*model.Order, error) {
	raw, err := r.store.Get(ctx, OrdersCollection, id)
	if err != nil {
		return nil, err
	}
	return decodeOrder(raw)
}

// ListLive returns every pending, preparing or ready order.
func (r *OrderRepository) ListLive(ctx context.Context) ([]model.Order, error) {
	snaps, err := r.store.Find(ctx, liveQuery())
	if err != nil {
		return nil, err
	}
	return r.decodeAll(snaps), nil
}

// UpdateIf writes fields only if the stored order is still at revision, and
// bumps the revision with the write.
func (r *OrderRepository) UpdateIf(ctx context.Context, id string, revision int64, fields store.Fields) (bool, error) {
	set := make(store.Fields, len(fields)+1)
	for k, v := range fields {
		set[k] = v
	}
	set[FieldRevision] = revision + 1
	return r.store.UpdateIf(ctx, OrdersCollection, id, store.Fields{FieldRevision: revision}, set)
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id string) error {
	return r.store.Update(ctx, OrdersCollection, id, store.Fields{FieldIsPaid: true})
}

// SubscribeLive opens a live feed of the floor's order set.
func (r *OrderRepository) SubscribeLive(ctx context.Context) (*OrderFeed, error) {
	sub, err := r.store.Subscribe(ctx, liveQuery())
	if err != nil {
		return nil, err
	}
	feed := &OrderFeed{sub: sub, ch: make(chan []model.Order)}
	go func() {
		defer close(feed.ch)
		for snaps := range sub.Snapshots() {
			orders := r.decodeAll(snaps)
			select {
			case feed.ch <- orders:
			case <-ctx.Done():
				sub.Close()
				// drain so the store side can finish
				for range sub.Snapshots() {
				}
				return
			}
		}
	}()
	return feed, nil
}

// OrderFeed yields validated order sets from a live subscription.
type OrderFeed struct {
	sub store.Subscription
	ch  chan []model.Order
}

func (f *OrderFeed) Orders() <-chan []model.Order { return f.ch }
func (f *OrderFeed) Err() error                   { return f.sub.Err() }
func (f *OrderFeed) Close()                       { f.sub.Close() }

func (r *OrderRepository) decodeAll(snaps []store.Snapshot) []model.Order {
	out := make([]model.Order, 0, len(snaps))
	for _, s := range snaps {
		o, err := decodeOrder(s.Doc)
		if err != nil {
			r.log.Warn("skipping invalid order document",
				"action", "order_decode_failed", "order_id", s.ID, "error", err)
			continue
		}
		out = append(out, *o)
	}
	return out
}

func decodeOrder(raw bson.Raw) (*model.Order, error) {
	var o model.Order
	if err := bson.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &o, nil
}
