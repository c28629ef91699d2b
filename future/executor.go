package future

import (
	"github.com/panjf2000/ants/v2"
)

// Executor runs submitted tasks. *ants.Pool satisfies it.
type Executor interface {
	Submit(task func()) error
}

type executorFunc func(func()) error

func (f executorFunc) Submit(task func()) error { return f(task) }

var (
	// Inline runs every task on the submitting goroutine.
	Inline Executor = executorFunc(func(task func()) error {
		task()
		return nil
	})

	// Goroutine starts a new goroutine per task.
	Goroutine Executor = executorFunc(func(task func()) error {
		go task()
		return nil
	})
)

// Pool is a bounded executor backed by an ants goroutine pool.
type Pool struct {
	p *ants.Pool
}

// NewPool creates a pool running at most size tasks concurrently.
// Submissions block while the pool is saturated.
func NewPool(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		return nil, err
	}
	return &Pool{p: p}, nil
}

func (p *Pool) Submit(task func()) error { return p.p.Submit(task) }

// Running reports the number of tasks currently executing.
func (p *Pool) Running() int { return p.p.Running() }

// Release closes the pool. Tasks already running finish; later
// submissions fail with ants.ErrPoolClosed.
func (p *Pool) Release() { p.p.Release() }
