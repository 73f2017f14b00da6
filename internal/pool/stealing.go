package pool

import (
	"github.com/panjf2000/ants/v2"
)

// Stealing is a thin wrapper over a work-stealing goroutine pool, for
// workloads that benefit from load-balancing across workers rather than a
// single shared queue.
type Stealing struct {
	inner *ants.Pool
}

// NewStealing returns a pool backed by ants, sized to n concurrent workers.
func NewStealing(n int) (*Stealing, error) {
	inner, err := ants.NewPool(n, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Stealing{inner: inner}, nil
}

func (p *Stealing) Spawn(job Job) error {
	if err := p.inner.Submit(job); err != nil {
		if err == ants.ErrPoolClosed {
			return ErrShutdown
		}
		return err
	}
	return nil
}

// Shutdown releases the ants pool so later Spawn calls fail. It returns
// without waiting for jobs that are already running.
func (p *Stealing) Shutdown() {
	p.inner.Release()
}
