package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// BadgerStore backs the node-execution store and the scheduler job store
// with a single badger database. Update runs inside one badger transaction
// and is the serialization point for cursor increments and trigger claims.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	retry  retryPolicy

	mu     sync.Mutex
	closed bool
}

func NewBadgerStore(db *badger.DB, cfg domain.StoreConfig, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With("component", "badger-store"),
		retry: retryPolicy{
			attempts: cfg.RetryAttempts,
			backoff:  cfg.RetryBackoff,
		},
	}
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.retry.run(ctx, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			value, err = item.ValueCopy(nil)
			return err
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewKeyNotFoundError(key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	return s.retry.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), value)
		})
	})
}

func (s *BadgerStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	won := false

	err := s.retry.run(ctx, func() error {
		won = false
		return s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set([]byte(key), value); err != nil {
				return err
			}
			won = true
			return nil
		})
	})

	return won, err
}

func (s *BadgerStore) Update(ctx context.Context, key string, fn ports.UpdateFunc) ([]byte, error) {
	var result []byte

	err := s.retry.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var current []byte
			exists := true

			item, err := txn.Get([]byte(key))
			if err != nil {
				if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				exists = false
			} else {
				current, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			}

			next, err := fn(current, exists)
			if err != nil {
				if errors.Is(err, ports.ErrSkipUpdate) {
					result = current
					return nil
				}
				return err
			}

			if err := txn.Set([]byte(key), next); err != nil {
				return err
			}
			result = next
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.retry.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
	})
}

func (s *BadgerStore) List(ctx context.Context, prefix string) ([]ports.KeyValue, error) {
	var results []ports.KeyValue

	err := s.retry.run(ctx, func() error {
		results = results[:0]
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				results = append(results, ports.KeyValue{
					Key:   string(item.Key()),
					Value: value,
				})
			}
			return nil
		})
	})

	return results, err
}

func (s *BadgerStore) Batch(ctx context.Context, ops []ports.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	return s.retry.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, op := range ops {
				switch op.Type {
				case ports.OpPut:
					if err := txn.Set([]byte(op.Key), op.Value); err != nil {
						return err
					}
				case ports.OpDelete:
					if err := txn.Delete([]byte(op.Key)); err != nil {
						return err
					}
				default:
					return domain.ErrInvalidInput
				}
			}
			return nil
		})
	})
}

func (s *BadgerStore) ExpireAt(ctx context.Context, key string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	return s.retry.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
			return txn.SetEntry(entry)
		})
	})
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}
	s.closed = true

	return s.db.Close()
}
