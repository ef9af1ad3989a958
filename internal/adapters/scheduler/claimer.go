package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// claimer guarantees at most one firing per trigger per due time. The
// poll loop is unaware which implementation is active; clustered versus
// single-instance mode is a pure construction-time switch.
type claimer interface {
	Claim(ctx context.Context, triggerKey string, dueAt time.Time) (bool, error)
}

// storeClaimer takes claims through the shared durable store. The claim
// key embeds the due instant, so pollers racing over the same due time
// contend on one key and the store's create-if-absent picks the winner.
// The claim TTL keeps a crashed claimer from wedging a trigger forever.
type storeClaimer struct {
	storage    ports.StoragePort
	instanceID string
	claimTTL   time.Duration
}

func newStoreClaimer(storage ports.StoragePort, instanceID string, claimTTL time.Duration) *storeClaimer {
	return &storeClaimer{
		storage:    storage,
		instanceID: instanceID,
		claimTTL:   claimTTL,
	}
}

func (c *storeClaimer) Claim(ctx context.Context, triggerKey string, dueAt time.Time) (bool, error) {
	claim := domain.NewTriggerClaim(triggerKey, c.instanceID, dueAt, c.claimTTL)
	data, err := xjson.Marshal(claim)
	if err != nil {
		return false, domain.NewInternalError("failed to marshal trigger claim", err)
	}

	key := domain.SchedulerClaimKey(triggerKey, dueAt)
	won, err := c.storage.PutIfAbsent(ctx, key, data)
	if err != nil {
		return false, err
	}
	if won {
		if err := c.storage.ExpireAt(ctx, key, claim.ExpiresAt); err != nil {
			return false, err
		}
	}
	return won, nil
}

// localClaimer backs single-instance mode with an in-process lock. Seen
// due times are pruned as they age out so the map cannot grow unbounded.
type localClaimer struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newLocalClaimer() *localClaimer {
	return &localClaimer{seen: make(map[string]time.Time)}
}

func (c *localClaimer) Claim(_ context.Context, triggerKey string, dueAt time.Time) (bool, error) {
	key := domain.SchedulerClaimKey(triggerKey, dueAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.seen[key]; taken {
		return false, nil
	}
	c.seen[key] = dueAt

	cutoff := time.Now().Add(-time.Hour)
	for k, due := range c.seen {
		if due.Before(cutoff) {
			delete(c.seen, k)
		}
	}

	return true, nil
}
