package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"floor-dispatch-service/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements store.Store on a MongoDB database. Subscriptions use
// change streams, so the server must run as a replica set.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// EnsureIndexes creates the indexes the live order query and the history
// reads rely on.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(OrdersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	if err != nil {
		return unavailable(err)
	}
	_, err = m.db.Collection(HistoryCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "modified_at", Value: 1}},
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	raw, err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return raw, nil
}

func (m *MongoStore) Find(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	cur, err := m.db.Collection(q.Collection).Find(ctx, filterFor(q.Where), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable(err)
	}
	defer cur.Close(ctx)

	out := make([]store.Snapshot, 0)
	for cur.Next(ctx) {
		raw := append(bson.Raw(nil), cur.Current...)
		id, _ := raw.Lookup("_id").StringValueOK()
		out = append(out, store.Snapshot{ID: id, Doc: raw})
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (m *MongoStore) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return unavailable(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (m *MongoStore) UpdateIf(ctx context.Context, collection, id string, cond, fields store.Fields) (bool, error) {
	filter := bson.M{"_id": id}
	for k, v := range cond {
		filter[k] = v
	}
	res, err := m.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return false, unavailable(err)
	}
	return res.MatchedCount == 1, nil
}

func (m *MongoStore) Append(ctx context.Context, collection string, doc any) (string, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	id := primitive.NewObjectID().Hex()
	fields["_id"] = id

	if _, err := m.db.Collection(collection).InsertOne(ctx, fields); err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (m *MongoStore) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	cs, err := m.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, unavailable(err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &mongoSubscription{
		ch:     make(chan []store.Snapshot, 1),
		cancel: cancel,
	}
	go sub.run(sctx, cs, func(ctx context.Context) ([]store.Snapshot, error) {
		return m.Find(ctx, q)
	})
	return sub, nil
}

type mongoSubscription struct {
	ch     chan []store.Snapshot
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *mongoSubscription) Snapshots() <-chan []store.Snapshot { return s.ch }

func (s *mongoSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mongoSubscription) Close() { s.cancel() }

// run re-queries the full set after every change event. It is the only
// sender on ch.
func (s *mongoSubscription) run(ctx context.Context, cs *mongo.ChangeStream, find func(context.Context) ([]store.Snapshot, error)) {
	defer close(s.ch)
	defer cs.Close(context.Background())

	snaps, err := find(ctx)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.offer(snaps)

	for cs.Next(ctx) {
		snaps, err := find(ctx)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		s.offer(snaps)
	}
	if err := cs.Err(); err != nil {
		s.fail(ctx, unavailable(err))
		return
	}
	s.fail(ctx, ctx.Err())
}

func (s *mongoSubscription) offer(snaps []store.Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snaps
}

func (s *mongoSubscription) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.err = ctx.Err()
		return
	}
	s.err = err
}

func filterFor(where []store.Cond) bson.M {
	filter := bson.M{}
	for _, c := range where {
		if len(c.In) == 1 {
			filter[c.Field] = c.In[0]
			continue
		}
		filter[c.Field] = bson.M{"$in": c.In}
	}
	return filter
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
