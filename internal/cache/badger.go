package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const maxIncrConflictRetries = 8

// BadgerFacility is an embedded key-value store used as the host framework cache
// when the process runs without one of its own.
type BadgerFacility struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any) { l.logger.Error(fmt.Sprintf(msg, args...)) }

func (l *badgerLogger) Warningf(msg string, args ...any) { l.logger.Warn(fmt.Sprintf(msg, args...)) }

func (l *badgerLogger) Infof(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }

func (l *badgerLogger) Debugf(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }

// OpenBadgerFacility opens a store at dir, creating the directory if needed.
// With inMemory set, dir is ignored and nothing touches disk.
func OpenBadgerFacility(dir string, inMemory bool, logger *slog.Logger) (*BadgerFacility, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, fmt.Errorf("badger cache directory is required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerFacility{db: db}, nil
}

func (b *BadgerFacility) Get(_ context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *BadgerFacility) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerFacility) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *BadgerFacility) Clear(_ context.Context) error {
	return b.db.DropAll()
}

// IncrBy adds delta to the decimal integer at key inside one transaction,
// keeping the entry's expiry.
func (b *BadgerFacility) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var result int64
	incr := func(txn *badger.Txn) error {
		var current int64
		var expiresAt uint64

		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrNotNumeric, raw)
			}
			expiresAt = item.ExpiresAt()
		}

		result = current + delta
		e := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(result, 10)))
		e.ExpiresAt = expiresAt
		return txn.SetEntry(e)
	}

	var err error
	for range maxIncrConflictRetries {
		err = b.db.Update(incr)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, err
	}
	return result, nil
}

func (b *BadgerFacility) Close() error {
	return b.db.Close()
}
