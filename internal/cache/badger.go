package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a durable [Store] on BadgerDB. Keys are "<kind>\x00<key>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store in dir. An empty dir keeps the data in memory.
func OpenBadger(dir string, logger *log.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(kind, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(kind, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

func (s *BadgerStore) Put(kind, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(kind, key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear(kind string) error {
	if err := s.db.DropPrefix(storeKey(kind, "")); err != nil {
		return fmt.Errorf("failed to clear cache kind %s: %w", kind, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's logging through charmbracelet/log. Badger is chatty at
// info level, so info lines are demoted to debug.
type badgerLogger struct {
	l *log.Logger
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.l.Errorf(trimNewline(format), args...) }
func (b badgerLogger) Warningf(format string, args ...any) { b.l.Warnf(trimNewline(format), args...) }
func (b badgerLogger) Infof(format string, args ...any)    { b.l.Debugf(trimNewline(format), args...) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.l.Debugf(trimNewline(format), args...) }

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}
