// Package future is the async result type shared by checkpoint and send
// operations. A Future completes exactly once with an error (nil on success).
package future

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New returns a pending future and the function that completes it.
// Only the first call to complete has an effect.
func New() (*Future, func(error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.complete
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Completed returns a future that already succeeded.
func Completed() *Future {
	f, complete := New()
	complete(nil)
	return f
}

// Failed returns a future that already failed with err. The failure is
// visible through Err as soon as Failed returns.
func Failed(err error) *Future {
	f, complete := New()
	complete(err)
	return f
}

func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the result, or nil while the future is still pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then calls fn with the result once the future completes. fn runs on its
// own goroutine, never on the caller's.
func (f *Future) Then(fn func(error)) {
	go func() {
		<-f.done
		fn(f.err)
	}()
}

// Go runs fn on exec and returns its future. A rejected submission
// yields a failed future.
func Go(exec Executor, fn func() error) *Future {
	f, complete := New()
	if err := exec.Submit(func() { complete(fn()) }); err != nil {
		complete(err)
	}
	return f
}

// Join completes when every input has completed. The first failure to
// complete is the result; the remaining inputs are still awaited.
func Join(fs ...*Future) *Future {
	switch len(fs) {
	case 0:
		return Completed()
	case 1:
		return fs[0]
	}
	return Go(Goroutine, func() error {
		p := pool.New().WithErrors().WithFirstError()
		for _, f := range fs {
			p.Go(func() error {
				<-f.Done()
				return f.Err()
			})
		}
		return p.Wait()
	})
}
