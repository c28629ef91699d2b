package checkpoint

import (
	"context"
	"slices"
	"sync"

	"ackflow/future"
	"ackflow/message"
)

// Completer settles a leased message at the broker.
type Completer interface {
	Complete(ctx context.Context, l Lock) error
}

// LockTokenCheckpointer completes per-message locks. Locks are keyed by
// broker token since message ids are publisher-set and may repeat. A lock
// is removed from the held set before it is completed, so it is completed
// at most once.
type LockTokenCheckpointer struct {
	destination string
	completer   Completer
	exec        future.Executor

	mu   sync.Mutex
	held map[string]heldLock // lock token -> lock
}

type heldLock struct {
	lock      Lock
	messageID string
}

func NewLockTokenCheckpointer(destination string, c Completer, exec future.Executor) *LockTokenCheckpointer {
	if exec == nil {
		exec = future.Goroutine
	}
	return &LockTokenCheckpointer{
		destination: destination,
		completer:   c,
		exec:        exec,
		held:        make(map[string]heldLock),
	}
}

func (c *LockTokenCheckpointer) Family() Family { return LockToken }

// Hold records the lock of a delivered message.
func (c *LockTokenCheckpointer) Hold(messageID string, l Lock) {
	c.mu.Lock()
	c.held[l.Token] = heldLock{lock: l, messageID: messageID}
	c.mu.Unlock()
}

// Forget drops a lock without completing it; the broker redelivers the
// message once the lease expires.
func (c *LockTokenCheckpointer) Forget(token string) {
	c.mu.Lock()
	delete(c.held, token)
	c.mu.Unlock()
}

// Held returns the number of locks not yet completed.
func (c *LockTokenCheckpointer) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

func (c *LockTokenCheckpointer) take(token string) (heldLock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.held[token]
	if ok {
		delete(c.held, token)
	}
	return h, ok
}

// CheckpointMessage completes the lock named by the lock token header of m.
func (c *LockTokenCheckpointer) CheckpointMessage(ctx context.Context, m *message.Message) *future.Future {
	token := m.Headers().String(message.HeaderLockToken)
	if token == "" {
		return future.Failed(&Error{Destination: c.destination, MessageID: m.ID(), Err: ErrLockNotHeld})
	}
	return c.CheckpointToken(ctx, token)
}

// CheckpointToken completes the lock held under token.
func (c *LockTokenCheckpointer) CheckpointToken(ctx context.Context, token string) *future.Future {
	h, ok := c.take(token)
	if !ok {
		return future.Failed(&Error{Destination: c.destination, LockToken: token, Err: ErrLockNotHeld})
	}
	return c.complete(ctx, h)
}

func (c *LockTokenCheckpointer) complete(ctx context.Context, h heldLock) *future.Future {
	return future.Go(c.exec, func() error {
		if err := c.completer.Complete(ctx, h.lock); err != nil {
			return &Error{Destination: c.destination, MessageID: h.messageID, LockToken: h.lock.Token, Err: err}
		}
		return nil
	})
}

// Checkpoint completes every lock currently held.
func (c *LockTokenCheckpointer) Checkpoint(ctx context.Context) *future.Future {
	c.mu.Lock()
	tokens := make([]string, 0, len(c.held))
	locks := make(map[string]heldLock, len(c.held))
	for tok, h := range c.held {
		tokens = append(tokens, tok)
		locks[tok] = h
	}
	clear(c.held)
	c.mu.Unlock()

	slices.Sort(tokens)
	fs := make([]*future.Future, 0, len(tokens))
	for _, tok := range tokens {
		fs = append(fs, c.complete(ctx, locks[tok]))
	}
	return future.Join(fs...)
}
