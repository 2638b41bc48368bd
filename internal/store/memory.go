package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

type memDoc struct {
	seq    int64
	fields bson.M
}

// Memory is a process-local Store. Documents are kept as BSON maps so they
// round-trip exactly as they would through a real document store.
type Memory struct {
	mu   sync.Mutex
	seq  int64
	cols map[string]map[string]*memDoc
	subs map[*memorySubscription]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		cols: make(map[string]map[string]*memDoc),
		subs: make(map[*memorySubscription]struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.cols[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return bson.Marshal(doc.fields)
}

func (m *Memory) Find(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(q)
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set, err := toMap(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.cols[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range set {
		doc.fields[k] = v
	}
	m.notifyLocked(collection)
	return nil
}

func (m *Memory) UpdateIf(ctx context.Context, collection, id string, cond, fields Fields) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	set, err := toMap(fields)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.cols[collection][id]
	if !ok {
		return false, nil
	}
	for field, want := range cond {
		if !equalValues(doc.fields[field], want) {
			return false, nil
		}
	}
	for k, v := range set {
		doc.fields[k] = v
	}
	m.notifyLocked(collection)
	return true, nil
}

func (m *Memory) Append(ctx context.Context, collection string, doc any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fields, err := toMap(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	fields["_id"] = id

	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string]*memDoc)
		m.cols[collection] = col
	}
	m.seq++
	col[id] = &memDoc{seq: m.seq, fields: fields}
	m.notifyLocked(collection)
	return id, nil
}

func (m *Memory) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		store: m,
		query: q,
		ch:    make(chan []Snapshot, 1),
	}

	m.mu.Lock()
	snaps, err := m.findLocked(q)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.subs[sub] = struct{}{}
	sub.offer(snaps)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.end(ctx.Err())
	}()
	return sub, nil
}

func (m *Memory) findLocked(q Query) ([]Snapshot, error) {
	docs := make([]*memDoc, 0)
	for _, doc := range m.cols[q.Collection] {
		if matches(doc.fields, q.Where) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })

	out := make([]Snapshot, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc.fields)
		if err != nil {
			return nil, err
		}
		id, _ := doc.fields["_id"].(string)
		out = append(out, Snapshot{ID: id, Doc: raw})
	}
	return out, nil
}

func (m *Memory) notifyLocked(collection string) {
	for sub := range m.subs {
		if sub.query.Collection != collection {
			continue
		}
		snaps, err := m.findLocked(sub.query)
		if err != nil {
			continue
		}
		sub.offer(snaps)
	}
}

type memorySubscription struct {
	store *Memory
	query Query
	ch    chan []Snapshot

	once sync.Once
	err  error
}

func (s *memorySubscription) Snapshots() <-chan []Snapshot { return s.ch }

func (s *memorySubscription) Err() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() { s.end(nil) }

// offer replaces any undelivered set with snaps. Callers hold store.mu, which
// makes them the only sender.
func (s *memorySubscription) offer(snaps []Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snaps
}

func (s *memorySubscription) end(err error) {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		delete(s.store.subs, s)
		s.err = err
		close(s.ch)
	})
}

func matches(doc bson.M, where []Cond) bool {
	for _, c := range where {
		ok := false
		for _, want := range c.In {
			if equalValues(doc[c.Field], want) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// equalValues compares two values by their BSON encoding, with all integer
// widths treated alike.
func equalValues(a, b any) bool {
	ea, err := encodeValue(a)
	if err != nil {
		return false
	}
	eb, err := encodeValue(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func encodeValue(v any) ([]byte, error) {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	var decoded bson.M
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	if n, ok := decoded["v"].(int32); ok {
		decoded["v"] = int64(n)
	}
	return bson.Marshal(decoded)
}

func toMap(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}
