// Package docstore is the document store collaborator of the board: an
// append-only collection store with server-assigned timestamps and live
// queries, backed by badger.
//
// Records are flat JSON objects. A field set to ServerTimestamp is replaced by
// the store's commit time, which is strictly increasing across all writes of
// one store. Live queries redeliver the complete ordered result set after
// every commit to the watched collection.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("docstore: store closed")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrInvalidCollection is returned for empty or malformed collection names.
	ErrInvalidCollection = errors.New("docstore: invalid collection name")
)

// Fields is the flat record written by Add.
type Fields map[string]any

type serverTimestamp struct{}

// MarshalJSON makes an unresolved sentinel visible instead of encoding {}.
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return nil, errors.New("docstore: unresolved server timestamp")
}

// ServerTimestamp is a field value placeholder resolved to the commit time.
var ServerTimestamp any = serverTimestamp{}

// Query selects a whole collection ordered by one field.
type Query struct {
	Collection string
	OrderBy    string
	Descending bool
}

// Document is one stored record.
type Document struct {
	ID         string
	Seq        uint64
	CreateTime time.Time
	Data       json.RawMessage
}

// DataTo decodes the record into v.
func (d *Document) DataTo(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Snapshot is the result set of a query as of one read transaction.
type Snapshot struct {
	Docs   []Document
	ReadAt time.Time
}

// Listener cancels a live query.
type Listener interface {
	// Stop cancels the query. After Stop returns no new callback is started.
	// It is safe to call more than once and from inside a callback.
	Stop()
}

// Store is the contract the feed relies on.
type Store interface {
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Watch(q Query, onSnapshot func(Snapshot), onError func(error)) Listener
}
