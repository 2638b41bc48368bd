package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"floor-dispatch-service/internal/logger"
	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/repository"
	"floor-dispatch-service/internal/store"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const offerWindow = 2 * time.Minute

var (
	alice = model.Worker{ID: "w-alice", Name: "Alice"}
	bob   = model.Worker{ID: "w-bob", Name: "Bob"}
	carol = model.Worker{ID: "w-carol", Name: "Carol"}
	admin = model.Worker{ID: "w-admin", Name: "Manager", Admin: true}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// faultyStore wraps a store and fails history appends or every call on
// demand. Subscriptions wait on subscribeHold while it is set.
type faultyStore struct {
	store.Store
	failHistory   atomic.Bool
	down          atomic.Bool
	subscribeHold atomic.Pointer[chan struct{}]
	subscribes    atomic.Int32
}

func (f *faultyStore) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	f.subscribes.Add(1)
	if hold := f.subscribeHold.Load(); hold != nil {
		select {
		case <-*hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.Store.Subscribe(ctx, q)
}

func (f *faultyStore) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	if f.down.Load() {
		return nil, store.ErrUnavailable
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *faultyStore) Find(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	if f.down.Load() {
		return nil, store.ErrUnavailable
	}
	return f.Store.Find(ctx, q)
}

func (f *faultyStore) Append(ctx context.Context, collection string, doc any) (string, error) {
	if f.down.Load() || (collection == repository.HistoryCollection && f.failHistory.Load()) {
		return "", store.ErrUnavailable
	}
	return f.Store.Append(ctx, collection, doc)
}

type fixture struct {
	store  *faultyStore
	clock  *clock.Mock
	events *recordingNotifier
	orders *repository.OrderRepository
	ledger *repository.Ledger
	coord  *Coordinator
	floor  *FloorService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	f := &fixture{
		store:  &faultyStore{Store: store.NewMemory()},
		clock:  clock.NewMock(),
		events: &recordingNotifier{},
	}
	f.clock.Add(time.Hour)
	f.orders = repository.NewOrderRepository(f.store, log)
	f.ledger = repository.NewLedger(f.store, log, repository.LedgerOptions{Attempts: 2})
	f.floor = NewFloorService(f.orders, f.ledger, log, FloorOptions{
		Events:          f.events,
		Clock:           f.clock,
		AutoRejectAfter: offerWindow,
	})
	f.coord = f.floor.Coordinator()
	t.Cleanup(f.floor.Close)
	return f
}

func table(n int) model.Seat { return model.Seat{TableNumber: &n, Floor: "main"} }

func item(id string, price float64, qty int) model.OrderItem {
	return model.OrderItem{CatalogID: id, Name: id, UnitPrice: price, Quantity: qty}
}

func (f *fixture) place(t *testing.T, items ...model.OrderItem) *model.Order {
	t.Helper()
	if len(items) == 0 {
		items = []model.OrderItem{item("burger", 12.5, 1), item("fries", 4, 2)}
	}
	o, err := f.coord.PlaceOrder(context.Background(), table(4), items, admin)
	require.NoError(t, err)
	return o
}

func (f *fixture) get(t *testing.T, id string) *model.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) history(t *testing.T, id string) []model.ModificationRecord {
	t.Helper()
	recs, err := f.ledger.ForOrder(context.Background(), id)
	require.NoError(t, err)
	return recs
}

func countType(recs []model.ModificationRecord, typ model.ModificationType) int {
	n := 0
	for _, r := range recs {
		if r.ModificationType == typ {
			n++
		}
	}
	return n
}
