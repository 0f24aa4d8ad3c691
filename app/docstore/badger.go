package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// record is the stored envelope of a document.
type record struct {
	Seq        uint64          `json:"seq"`
	CreateTime time.Time       `json:"createTime"`
	Fields     json.RawMessage `json:"fields"`
}

// Option configures a BadgerStore.
type Option func(*BadgerStore)

// WithClock replaces the wall clock used for commit times.
func WithClock(now func() time.Time) Option {
	return func(s *BadgerStore) {
		s.now = now
	}
}

// BadgerStore implements Store on a badger database. The database is owned by
// the caller and must outlive the store.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex // serializes commits so the clock never goes backwards

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	closed   bool
	closing  chan struct{}
	wg       sync.WaitGroup
	cron     *cron.Cron
}

// OpenDB opens the badger database backing the board. An in-memory database
// ignores path.
func OpenDB(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

// New creates a store on db.
func New(db *badger.DB, logger *slog.Logger, opts ...Option) *BadgerStore {
	s := &BadgerStore{
		db:       db,
		logger:   logger,
		now:      time.Now,
		watchers: make(map[string]map[*watcher]struct{}),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a record to collection and returns its new id. It returns once
// the write is committed.
func (s *BadgerStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if !validCollection(collection) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.isClosed() {
		return "", ErrClosed
	}

	id := uuid.NewString()
	var rec record

	s.writeMu.Lock()
	err := s.db.Update(func(txn *badger.Txn) error {
		last, err := readUint64(txn, ClockKey)
		if err != nil {
			return fmt.Errorf("failed to read clock: %w", err)
		}
		commit := s.now().UnixNano()
		if commit <= int64(last) {
			commit = int64(last) + 1
		}
		if err := writeUint64(txn, ClockKey, uint64(commit)); err != nil {
			return fmt.Errorf("failed to advance clock: %w", err)
		}

		seq, err := getNextID(txn, collection)
		if err != nil {
			return err
		}

		createTime := time.Unix(0, commit).UTC()
		resolved := make(Fields, len(fields))
		for k, v := range fields {
			if _, ok := v.(serverTimestamp); ok {
				v = createTime
			}
			resolved[k] = v
		}
		data, err := marshalEntity(resolved)
		if err != nil {
			return err
		}
		rec = record{Seq: seq, CreateTime: createTime, Fields: data}
		val, err := marshalEntity(rec)
		if err != nil {
			return err
		}
		return txn.Set(docKey(collection, id), val)
	})
	s.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}

	s.logger.Debug("Document added", "collection", collection, "id", id, "seq", rec.Seq)
	s.notify(collection)
	return id, nil
}

// Get reads one document.
func (s *BadgerStore) Get(collection, id string) (*Document, error) {
	var doc *Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec record
		if err := item.Value(func(val []byte) error {
			return unmarshalEntity(val, &rec)
		}); err != nil {
			return err
		}
		doc = &Document{ID: id, Seq: rec.Seq, CreateTime: rec.CreateTime, Data: rec.Fields}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Query runs q once.
func (s *BadgerStore) Query(q Query) (Snapshot, error) {
	if !validCollection(q.Collection) {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidCollection, q.Collection)
	}
	var docs []Document
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := collectionPrefix(q.Collection)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			var rec record
			err := item.Value(func(val []byte) error {
				return unmarshalEntity(val, &rec)
			})
			if err != nil {
				s.logger.Warn("Skipping unreadable document", "collection", q.Collection, "id", id, "error", err)
				continue
			}
			docs = append(docs, Document{ID: id, Seq: rec.Seq, CreateTime: rec.CreateTime, Data: rec.Fields})
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return Snapshot{Docs: orderDocs(docs, q), ReadAt: s.now()}, nil
}

// Watch starts a live query. The current result set is delivered right away
// on another goroutine, then again after every commit to the collection.
// Commits that land while a delivery is in progress are folded into the next
// one. A failed read or store shutdown ends the query through onError.
func (s *BadgerStore) Watch(q Query, onSnapshot func(Snapshot), onError func(error)) Listener {
	w := newWatcher(q, onSnapshot, onError)

	var initErr error
	s.mu.Lock()
	switch {
	case !validCollection(q.Collection):
		initErr = fmt.Errorf("%w: %q", ErrInvalidCollection, q.Collection)
	case s.closed:
		initErr = ErrClosed
	default:
		set := s.watchers[q.Collection]
		if set == nil {
			set = make(map[*watcher]struct{})
			s.watchers[q.Collection] = set
		}
		set[w] = struct{}{}
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if initErr != nil {
		go func() {
			defer close(w.done)
			w.fail(initErr)
		}()
		return w
	}
	go s.run(w)
	return w
}

func (s *BadgerStore) run(w *watcher) {
	defer close(w.done)
	defer s.wg.Done()
	defer s.unregister(w)

	for {
		select {
		case <-w.stop:
			return
		case <-s.closing:
			w.fail(ErrClosed)
			return
		case <-w.notify:
		}

		snap, err := s.Query(w.q)
		if err != nil {
			s.logger.Error("Live query failed", "collection", w.q.Collection, "error", err)
			w.fail(err)
			return
		}
		if !w.deliver(snap) {
			return
		}
	}
}

func (s *BadgerStore) unregister(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.watchers[w.q.Collection]; set != nil {
		delete(set, w)
		if len(set) == 0 {
			delete(s.watchers, w.q.Collection)
		}
	}
}

func (s *BadgerStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers[collection] {
		w.signal()
	}
}

func (s *BadgerStore) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.watchers {
		for w := range set {
			w.signal()
		}
	}
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops maintenance and ends all live queries with ErrClosed. It does
// not close the underlying database. Close must not be called from a watch
// callback.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	return nil
}
