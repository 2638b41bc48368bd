// Package store defines the document store the floor engine runs on: keyed
// BSON documents, conditional writes, append-only collections and live
// queries that re-deliver their full result set on every change.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Fields is a partial document applied with $set semantics. Keys are
// top-level field names.
type Fields map[string]any

// Cond matches documents whose Field equals one of In. An absent field
// compares equal to nil.
type Cond struct {
	Field string
	In    []any
}

func Eq(field string, value any) Cond {
	return Cond{Field: field, In: []any{value}}
}

// Query selects the documents of a collection matching every condition.
type Query struct {
	Collection string
	Where      []Cond
}

type Snapshot struct {
	ID  string
	Doc bson.Raw
}

func (s Snapshot) Decode(v any) error {
	return bson.Unmarshal(s.Doc, v)
}

// Subscription is a live query. Snapshots yields the full matching set, first
// as it stands when subscribing and again after every change to the
// collection. A reader that falls behind only sees the latest set. The
// channel is closed when the subscription ends; Err then reports why.
type Subscription interface {
	Snapshots() <-chan []Snapshot
	Err() error
	Close()
}

type Store interface {
	Get(ctx context.Context, collection, id string) (bson.Raw, error)
	Find(ctx context.Context, q Query) ([]Snapshot, error)
	Subscribe(ctx context.Context, q Query) (Subscription, error)

	// Update is a last-write-wins partial update.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// UpdateIf applies fields only if the document exists and matches every
	// key of cond. It reports whether the write happened.
	UpdateIf(ctx context.Context, collection, id string, cond, fields Fields) (bool, error)

	// Append inserts doc under a store-assigned id and returns that id.
	Append(ctx context.Context, collection string, doc any) (string, error)
}
