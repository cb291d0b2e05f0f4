package conn

import (
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/kvmono"
	"github.com/OneOfOne/xxhash"
	"golang.org/x/sys/unix"
)

// epoll is a thin wrapper over one epoll instance, used by each worker
// (watching its own disjoint set of connections); the listener accepts
// through net.Listener instead. spec.md §4.2 "Event registration" uses
// an edge-persistent registration with a timeout; we use EPOLLET
// throughout, registering each connection once and relying on the next
// edge to wake a connection that yielded on WouldBlock.
type epoll struct {
	fd int
}

func newEpoll() (*epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epoll{fd: fd}, nil
}

func (e *epoll) add(fd int) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
		Fd:     int32(fd),
	})
}

func (e *epoll) remove(fd int) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *epoll) wait(events []unix.EpollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(e.fd, events, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	return n, err
}

func (e *epoll) close() error { return unix.Close(e.fd) }

// rawFd extracts the kernel file descriptor behind a *net.TCPConn for
// epoll registration. Actual reads/writes still go through the
// Connection's socketRead/socketWrite (deadline-emulated non-blocking,
// conn/connection_io.go); the epoll instance here is purely a
// readiness signal telling a worker which connections are worth a
// Step() call right now instead of busy-polling all of them.
func rawFd(c net.Conn) (int, bool) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	fd := -1
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return 0, false
	}
	return fd, fd >= 0
}

// worker owns a disjoint set of Connections and a private epoll
// instance — one thread per worker, one connection bound to exactly
// one worker for its lifetime (spec.md §4.5, §5).
type worker struct {
	id          int
	poll        *epoll
	idleTimeout time.Duration

	mu   sync.Mutex
	byFd map[int]*Connection
	byID map[uint64]*Connection
}

func newWorker(id int, idleTimeout time.Duration) (*worker, error) {
	ep, err := newEpoll()
	if err != nil {
		return nil, err
	}
	return &worker{
		id:          id,
		poll:        ep,
		idleTimeout: idleTimeout,
		byFd:        make(map[int]*Connection),
		byID:        make(map[uint64]*Connection),
	}, nil
}

// adopt registers c with this worker's epoll set and drives it until
// its first suspension point, matching how a freshly accepted
// connection enters the reactor (spec.md §4.5 "runEventLoop").
func (w *worker) adopt(c *Connection) {
	w.mu.Lock()
	w.byID[c.id] = c
	fd, ok := rawFd(c.raw)
	if ok {
		w.byFd[fd] = c
		if err := w.poll.add(fd); err != nil {
			kvlog.Warningf("worker %d: epoll add fd=%d: %v", w.id, fd, err)
		}
	}
	w.mu.Unlock()
	w.drive(c)
}

// drive runs c's state machine until it yields (suspends waiting for
// readiness or an async engine completion) or is fully torn down.
func (w *worker) drive(c *Connection) {
	for {
		outcome := c.Step()
		switch outcome {
		case OutcomeContinue:
			continue
		case OutcomeYield:
			return
		case OutcomeClosed:
			w.forget(c)
			return
		}
	}
}

func (w *worker) forget(c *Connection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.byID, c.id)
	if fd, ok := rawFd(c.raw); ok {
		w.poll.remove(fd)
		delete(w.byFd, fd)
	}
}

// run is the worker's event loop: borrow readiness from epoll_wait,
// drive every signaled connection, then sweep for idle connections
// eligible for timeout (spec.md §4.5, §5 "Cancellation & timeout").
func (w *worker) run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := w.poll.wait(events, 200)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			w.mu.Lock()
			c := w.byFd[fd]
			w.mu.Unlock()
			if c != nil {
				w.drive(c)
			}
		}
		w.sweepIdle()
	}
}

func (w *worker) sweepIdle() {
	if w.idleTimeout <= 0 {
		return
	}
	w.mu.Lock()
	var toClose []*Connection
	for _, c := range w.byID {
		if c.IsInternal() {
			continue
		}
		if kvmono.Since(c.lastActivity) > int64(w.idleTimeout) {
			toClose = append(toClose, c)
		}
	}
	w.mu.Unlock()
	for _, c := range toClose {
		c.RequestClose(nil)
		w.drive(c)
	}
}

// workerForConn picks a worker deterministically from a connection's
// id via xxhash, giving simple, stable worker affinity instead of
// round-robin (SPEC_FULL.md §3 "worker-affinity hashing").
func workerForConn(id uint64, numWorkers int) int {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	return int(xxhash.Checksum64(buf[:]) % uint64(numWorkers))
}
