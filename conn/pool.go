package conn

import (
	"context"
	"time"

	"github.com/NVIDIA/kvcore/kvlog"
	"golang.org/x/sync/errgroup"
)

// WorkerPool is the fixed-size reactor described by spec.md §4.5: every
// accepted Connection is assigned to exactly one of a small, fixed set
// of workers for its whole lifetime, and each worker drives only its
// own connections off its own epoll instance. golang.org/x/sync/errgroup
// supervises the worker goroutines so one worker's fatal epoll_wait
// error tears the others down instead of leaking a half-dead pool
// (SPEC_FULL.md §3 "errgroup to supervise the fixed worker pool").
type WorkerPool struct {
	workers []*worker
	stop    chan struct{}
	g       *errgroup.Group
}

// NewWorkerPool builds a pool of n workers, each with its own epoll
// instance. idleTimeout is applied per spec.md §5 "Cancellation &
// timeout"; pass 0 to disable idle reaping (used for internal/DCP
// listeners, see Options.Internal).
func NewWorkerPool(n int, idleTimeout time.Duration) (*WorkerPool, error) {
	if n <= 0 {
		n = 1
	}
	p := &WorkerPool{
		workers: make([]*worker, n),
		stop:    make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, idleTimeout)
		if err != nil {
			for j := 0; j < i; j++ {
				p.workers[j].poll.close()
			}
			return nil, err
		}
		p.workers[i] = w
	}
	return p, nil
}

// Start launches one goroutine per worker under an errgroup bound to
// ctx; cancelling ctx (or any worker returning a fatal error) unwinds
// the whole pool. Start returns immediately — call Wait to block until
// shutdown.
func (p *WorkerPool) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	p.g = g
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			err := w.run(p.stop)
			if err != nil {
				kvlog.Errorf("worker %d: event loop exited: %v", w.id, err)
			}
			return err
		})
	}
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
}

// Assign hands c to the worker its connection ID hashes to, giving
// stable worker affinity for the connection's whole lifetime
// (SPEC_FULL.md §3 "worker-affinity hashing via xxhash").
func (p *WorkerPool) Assign(c *Connection) {
	idx := workerForConn(c.id, len(p.workers))
	p.workers[idx].adopt(c)
}

// NumWorkers reports the pool's fixed worker count.
func (p *WorkerPool) NumWorkers() int { return len(p.workers) }

// Stop signals every worker's run loop to return at its next poll
// timeout. Safe to call more than once.
func (p *WorkerPool) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// Wait blocks until every worker goroutine has returned, then closes
// their epoll instances, and reports the first non-nil worker error
// (if any). Start must have been called first.
func (p *WorkerPool) Wait() error {
	var err error
	if p.g != nil {
		err = p.g.Wait()
	}
	for _, w := range p.workers {
		w.poll.close()
	}
	return err
}
