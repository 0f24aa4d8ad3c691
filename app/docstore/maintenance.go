package docstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
)

// gcDiscardRatio is the fraction of stale data a value log file needs before
// it is rewritten.
const gcDiscardRatio = 0.5

// StartMaintenance schedules value log garbage collection on a cron spec such
// as "@hourly". It is stopped by Close.
func (s *BadgerStore) StartMaintenance(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cron != nil {
		return errors.New("docstore: maintenance already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.CollectGarbage() }); err != nil {
		return fmt.Errorf("schedule value log gc %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Value log GC scheduled", "schedule", spec)
	return nil
}

// CollectGarbage runs value log GC until nothing more can be reclaimed and
// returns the number of rewritten files.
func (s *BadgerStore) CollectGarbage() int {
	rewritten := 0
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			rewritten++
			continue
		}
		switch {
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		case errors.Is(err, badger.ErrGCInMemoryMode):
			s.logger.Debug("Value log GC skipped for in-memory store")
		default:
			s.logger.Warn("Value log GC failed", "error", err)
		}
		if rewritten > 0 {
			s.logger.Info("Value log GC finished", "rewritten", rewritten)
		}
		return rewritten
	}
}

// Backup writes a full backup of the database to w.
func (s *BadgerStore) Backup(w io.Writer) error {
	if _, err := s.db.Backup(w, 0); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// Restore loads a backup written by Backup and refreshes every live query.
func (s *BadgerStore) Restore(r io.Reader) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var before uint64
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		before, err = readUint64(txn, ClockKey)
		return err
	}); err != nil {
		return fmt.Errorf("restore: read clock: %w", err)
	}
	if err := s.db.Load(r, 16); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	// the backup may carry an older clock; commit times must not go backwards
	if err := s.db.Update(func(txn *badger.Txn) error {
		loaded, err := readUint64(txn, ClockKey)
		if err != nil || loaded >= before {
			return err
		}
		return writeUint64(txn, ClockKey, before)
	}); err != nil {
		return fmt.Errorf("restore: reset clock: %w", err)
	}

	s.notifyAll()
	return nil
}
