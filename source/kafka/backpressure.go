package kafka

import (
	"context"
	"sync"
	"time"
)

// Controller is a token bucket bounding how many records all claims
// deliver per refill window.
type Controller struct {
	capacity int64
	refill   int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
	stop   chan struct{}
}

func NewController(capacity, refill int64, tick time.Duration) *Controller {
	c := &Controller{
		capacity: capacity,
		refill:   refill,
		tokens:   capacity,
		stop:     make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
			}
			c.Release(c.refill)
		}
	}()
	return c
}

// Acquire takes one token, waiting for a refill when the bucket is
// empty. It fails when ctx ends or the controller is closed.
func (c *Controller) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.tokens == 0 && ctx.Err() == nil && !c.closed {
		c.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return context.Canceled
	}
	c.tokens--
	return nil
}

func (c *Controller) TryAcquire(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens < n {
		return false
	}
	c.tokens -= n
	return true
}

func (c *Controller) Release(n int64) {
	c.mu.Lock()
	c.tokens = min(c.tokens+n, c.capacity)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()
	c.cond.Broadcast()
}
