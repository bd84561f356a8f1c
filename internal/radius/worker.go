package radius

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultTickInterval is how often Worker sweeps Trunk.Tick for expired
// zombie/revive deadlines and due retransmits. The spec's single-threaded
// cooperative event loop (§5) arms one timer per deadline; Go's runtime
// timers could do the same, but one goroutine polling a short, fixed
// period is simpler to reason about here and still meets every timing
// invariant in §8 within one tick's slack.
const defaultTickInterval = 50 * time.Millisecond

// Worker binds exactly one Trunk to one goroutine, matching the "single
// worker thread owns this trunk's entire lifecycle" requirement of §1/§5.
// Every Trunk/Connection mutation happens inside Run's select loop; the
// only other goroutines touching a Connection are its own readLoop
// (blocked in Socket.Read) and a caller blocked in Dispatcher.Submit,
// neither of which mutates trunk state directly — both hand off through
// jobs.
type Worker struct {
	trunk *Trunk
	jobs  chan func()
	tick  time.Duration

	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker wraps trunk for execution on a single goroutine. tickInterval
// <= 0 uses defaultTickInterval.
func NewWorker(trunk *Trunk, tickInterval time.Duration, logger *slog.Logger) *Worker {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Worker{
		trunk:  trunk,
		jobs:   make(chan func(), 256),
		tick:   tickInterval,
		logger: logger.With("subsystem", "worker"),
	}
}

// Post enqueues a job to run on the worker's goroutine, blocking until it
// is accepted or ctx ends. Dispatcher uses this to move every trunk
// mutation (Enqueue, Cancel, ForceRetransmit) onto the single worker
// goroutine regardless of which goroutine the caller is on.
func (w *Worker) Post(ctx context.Context, job func()) error {
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts every connection's connect and read loop, then drives the
// trunk until ctx is canceled: job execution, periodic Tick sweeps, and
// (indirectly, via readLoop's handoff) socket readability all funnel
// through this one select loop.
func (w *Worker) Run(ctx context.Context) {
	w.trunk.StartAll(time.Now())

	for _, c := range w.trunk.connections {
		w.wg.Add(1)
		go w.readLoop(ctx, c)
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.trunk.CloseAll(context.Background())
			w.wg.Wait()
			return
		case job := <-w.jobs:
			job()
		case now := <-ticker.C:
			w.trunk.Tick(now)
		}
	}
}

// readLoop blocks in Socket.Read for one connection and hands each
// datagram back to the worker goroutine for decoding. This is the Go
// translation of the spec's external "socket readable" event: instead of
// an event-loop readiness callback, a dedicated goroutine blocks on the
// read and posts a job, exactly the channel-handoff idiom the rest of
// this package's single-worker-goroutine model expects.
func (w *Worker) readLoop(ctx context.Context, c *Connection) {
	defer w.wg.Done()

	buf := make([]byte, MaxPacketSize)
	for {
		n, err := c.socket.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("read error", "connection", c.index, "error", err)
			continue
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if n < HeaderLength {
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		conn := c
		job := func() { w.trunk.HandleReadable(conn, raw, time.Now()) }

		select {
		case w.jobs <- job:
		case <-ctx.Done():
			return
		}
	}
}
