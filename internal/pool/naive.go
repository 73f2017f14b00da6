package pool

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned by Spawn once Shutdown has been called.
var ErrShutdown = errors.New("pool: shut down")

// Naive starts a fresh goroutine per Spawn. It ignores its configured size
// entirely; acceptable for tests, not for production request handling.
type Naive struct {
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewNaive returns a Naive pool. n is accepted for interface symmetry with
// the other constructors but otherwise unused.
func NewNaive(n int) *Naive {
	return &Naive{}
}

func (p *Naive) Spawn(job Job) error {
	if p.shutdown.Load() {
		return ErrShutdown
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job()
	}()
	return nil
}

func (p *Naive) Shutdown() {
	p.shutdown.Store(true)
	p.wg.Wait()
}
