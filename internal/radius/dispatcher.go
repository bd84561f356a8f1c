package radius

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher is the caller-facing entry point (§4.6): it rejects
// Status-Server directly, builds the ProtocolRequest, and bridges the
// calling goroutine's blocking Submit into a job on the single Worker
// goroutine that actually owns the Trunk. This channel handoff is the Go
// translation of the spec's "yield the caller, resume with the result"
// coroutine model (§9): no language-level coroutine is needed, a
// goroutine blocked on a channel receive plays the same role.
type Dispatcher struct {
	trunk  *Trunk
	worker *Worker
	logger *slog.Logger
}

func NewDispatcher(trunk *Trunk, worker *Worker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{trunk: trunk, worker: worker, logger: logger.With("subsystem", "dispatcher")}
}

// Handle lets a caller that used SubmitAsync signal a DUP retransmit or a
// cancellation for an in-flight exchange while still waiting on its
// result (§4.6, §5). It is never valid to use after Wait returns.
type Handle struct {
	d   *Dispatcher
	req *ProtocolRequest

	mu     sync.Mutex
	idx    int32
	placed bool
	done   bool
}

// SignalDup forces an immediate retransmit of this exchange's last sent
// bytes, ignoring its retry schedule, matching the DUP signal an
// upstream proxy sends when it retransmits before this connection's own
// timer would have fired (§4.6, §9). A no-op if the exchange has not yet
// reached the sent state or has already completed.
func (h *Handle) SignalDup() {
	h.mu.Lock()
	idx, placed, done := h.idx, h.placed, h.done
	h.mu.Unlock()
	if !placed || done {
		return
	}
	_ = h.d.worker.Post(context.Background(), func() {
		h.d.trunk.ForceRetransmit(idx, time.Now())
	})
}

// Cancel abandons this exchange immediately, wherever it currently sits,
// resuming Wait with ResultFail without waiting for any reply (§5).
func (h *Handle) Cancel() {
	h.mu.Lock()
	idx, placed, done := h.idx, h.placed, h.done
	if !placed {
		h.done = true // swallow the enqueue job's own delivery once it lands
	}
	h.mu.Unlock()
	if placed && !done {
		_ = h.d.worker.Post(context.Background(), func() {
			h.d.trunk.Cancel(idx)
		})
	}
}

// Wait blocks until this exchange resumes, or ctx ends (in which case it
// cancels the exchange itself before returning).
func (h *Handle) Wait(ctx context.Context) (ResultCode, error) {
	select {
	case result := <-h.req.doneCh:
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		return result, nil
	case <-ctx.Done():
		h.Cancel()
		return ResultFail, ctx.Err()
	}
}

// SubmitAsync builds and enqueues one exchange, returning a Handle
// immediately so the caller can SignalDup or Cancel before calling Wait.
// Submitting Status-Server resolves the returned Handle with ResultNoop
// without ever reaching the trunk, matching §7's "NOOP is reserved for
// caller-initiated rejection (e.g. submitting Status-Server)" — use the
// connection's own status-check subsystem for liveness probes instead.
// parentCode is the packet code of the upstream request this exchange
// forwards on behalf of, or 0 if this exchange was originated locally; it
// only matters in PROXY mode, where a parentCode equal to code selects the
// no-active-retransmit "proxied with compatible parent" retry rule of §4.6.
func (d *Dispatcher) SubmitAsync(ctx context.Context, code int, priority uint32, attrs Attributes, parentCode int) (*Handle, error) {
	if code == CodeStatusServer {
		doneCh := make(chan ResultCode, 1)
		doneCh <- ResultNoop
		req := &ProtocolRequest{Code: code, Priority: priority, Attributes: attrs, doneCh: doneCh}
		return &Handle{d: d, req: req, idx: -1, placed: true, done: true}, nil
	}

	requireMA := stripMessageAuthenticator(attrs)
	retryCfg, proxied := d.trunk.retryConfigFor(code, parentCode)

	req := &ProtocolRequest{
		Code:       code,
		Priority:   priority,
		Attributes: attrs,
		RequireMA:  requireMA,
		IsProxied:  proxied,
		RetryCfg:   retryCfg,
		doneCh:     make(chan ResultCode, 1),
	}
	h := &Handle{d: d, req: req, idx: -1}

	enqueueErr := make(chan error, 1)
	err := d.worker.Post(ctx, func() {
		idx, err := d.trunk.Enqueue(req, time.Now())
		if err != nil {
			enqueueErr <- err
			return
		}
		h.mu.Lock()
		h.idx = idx
		h.placed = true
		cancelled := h.done
		h.mu.Unlock()
		if cancelled {
			d.trunk.Cancel(idx)
		}
		enqueueErr <- nil
	})
	if err != nil {
		return nil, err
	}
	if err := <-enqueueErr; err != nil {
		return nil, err
	}
	return h, nil
}

// Submit is the common case: build one exchange, wait for its result,
// and cancel it automatically if ctx ends first. Submitting Status-Server
// directly resolves immediately with ResultNoop (§4.6, §7) — see
// SubmitAsync.
func (d *Dispatcher) Submit(ctx context.Context, code int, priority uint32, attrs Attributes, parentCode int) (ResultCode, error) {
	h, err := d.SubmitAsync(ctx, code, priority, attrs, parentCode)
	if err != nil {
		return ResultFail, err
	}
	return h.Wait(ctx)
}

// stripMessageAuthenticator reports whether attrs already carries a
// Message-Authenticator, and if attrs supports mutation, removes it so
// the codec's own copy (added at encode time from the saved RequireMA
// flag) is never duplicated on the wire (§4.6).
func stripMessageAuthenticator(attrs Attributes) bool {
	if attrs == nil {
		return false
	}
	_, present := attrs.Get(AttrMessageAuthenticator)
	if !present {
		return false
	}
	if mutable, ok := attrs.(MutableAttributes); ok {
		mutable.Delete(AttrMessageAuthenticator)
	}
	return true
}
