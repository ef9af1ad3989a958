package ports

import (
	"context"
	"errors"
	"time"
)

// StoragePort is the single shared mutable resource of the orchestration
// core. Cross-process coordination goes through Update and PutIfAbsent;
// no application-level locks are held across processes.
type StoragePort interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error

	// PutIfAbsent writes only when the key does not exist yet and reports
	// whether this caller won. Racing creators resolve to a single winner
	// without error escalation.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Update applies fn to the current value inside one store-level atomic
	// update and returns the stored result. fn receives exists=false when
	// the key is absent; returning ErrSkipUpdate leaves the key untouched.
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)

	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]KeyValue, error)
	Batch(ctx context.Context, ops []Operation) error

	ExpireAt(ctx context.Context, key string, expireAt time.Time) error

	Close() error
}

type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// ErrSkipUpdate aborts an Update without writing and without error.
var ErrSkipUpdate = errors.New("skip update")

type KeyValue struct {
	Key   string
	Value []byte
}

type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

type Operation struct {
	Type  OpType
	Key   string
	Value []byte
}
