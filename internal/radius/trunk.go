package radius

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vradius/radclient/internal/metrics"
)

// maxConcurrentClose bounds how many connections are closed in parallel
// during shutdown, so a trunk with a very large pool doesn't fire off an
// unbounded burst of socket teardowns at once.
const maxConcurrentClose = 8

// TrunkConfig is the subset of runtime configuration a Trunk needs (§6).
// It is a plain struct rather than an import of internal/config so that
// package radius never depends on the config package that already depends
// on it; internal/config.Config.TrunkConfig() builds one of these.
type TrunkConfig struct {
	Mode Mode

	// Stream marks this trunk's connections as a reliable, ordered
	// transport (e.g. RadSec-less TCP) rather than UDP. Per §4.6 and the
	// §8 boundary test, a stream transport never arms the per-code retry
	// table — every exchange uses TimeoutRetry instead, since the
	// transport itself already guarantees delivery and ordering.
	Stream bool

	StatusCheckCode   int
	NumAnswersToAlive int

	ZombiePeriod   time.Duration
	ReviveInterval time.Duration
	ResponseWindow time.Duration

	MaxPacketSize int

	RequireMessageAuthenticator RequireMA

	// BacklogLimit caps the trunk-wide backlog; 0 means unlimited.
	BacklogLimit int

	// RetryFor and IsAllowed are injected rather than a map so callers can
	// implement any lookup policy (exact match, wildcard, etc).
	RetryFor  func(code int) RetryConfig
	IsAllowed func(code int) bool

	// TimeoutRetry is used in place of RetryFor whenever §4.6 calls for
	// it: PROXY mode forwarding a same-code parent, CLIENT/PROXY over a
	// Stream transport, and REPLICATE mode always.
	TimeoutRetry RetryConfig
}

// retryConfigFor resolves which retry schedule and proxied flag apply to
// a freshly submitted request, per the mode x code rule of §4.6:
//   - PROXY with a compatible parent of the same code -> proxied=true,
//     TimeoutRetry (no active retransmit; the exchange rides on upstream
//     DUP signals instead).
//   - PROXY otherwise -> treated as originated, falling through to the
//     same rule as CLIENT below.
//   - CLIENT (or originated PROXY) over a datagram transport -> RetryFor(code).
//   - CLIENT over a Stream transport, or REPLICATE in any case ->
//     TimeoutRetry.
func (t *Trunk) retryConfigFor(code, parentCode int) (cfg RetryConfig, proxied bool) {
	if t.cfg.Mode == ModeProxy && parentCode != 0 && parentCode == code {
		return t.cfg.TimeoutRetry, true
	}
	if t.cfg.Mode == ModeReplicate || t.cfg.Stream {
		return t.cfg.TimeoutRetry, false
	}
	if t.cfg.RetryFor != nil {
		return t.cfg.RetryFor(code), false
	}
	return t.cfg.TimeoutRetry, false
}

// Trunk multiplexes outbound exchanges across a pool of Connections to one
// destination (§3, §4.5). All mutating entry points assume they are
// called from the single goroutine driving this trunk (see worker.go);
// the mutex here exists only so read-only accessors (metrics scraping)
// are safe to call from another goroutine concurrently.
type Trunk struct {
	mu sync.RWMutex

	cfg    TrunkConfig
	codec  Codec
	logger *slog.Logger

	connections []*Connection
	backlog     *pendingQueue

	entries    []*ProtocolRequest
	freeList   []int32

	retryCount        uint64
	zombieTransitions uint64

	startTime time.Time
	closeSem  *semaphore.Weighted
}

// NewTrunk builds a Trunk over the given sockets, one Connection per
// socket. statusAttrs is the attribute template reused on every
// status-check probe; pass nil attrs and cfg.StatusCheckCode == 0 to
// disable status checks entirely.
func NewTrunk(cfg TrunkConfig, codec Codec, sockets []Socket, statusAttrs Attributes, logger *slog.Logger) *Trunk {
	l := logger.With("subsystem", "trunk")
	t := &Trunk{
		cfg:       cfg,
		codec:     codec,
		logger:    l,
		backlog:   newPendingQueue(),
		startTime: time.Now(),
		closeSem:  semaphore.NewWeighted(maxConcurrentClose),
	}
	for i, sock := range sockets {
		conn := newConnection(t, i, sock)
		if cfg.StatusCheckCode != 0 {
			conn.statusCheck = newStatusCheck(cfg.StatusCheckCode, statusAttrs, cfg.RetryFor(cfg.StatusCheckCode))
		}
		t.connections = append(t.connections, conn)
	}
	return t
}

// StartAll issues the initial connect on every connection (§4.3 INIT ->
// CONNECTING). Call once after NewTrunk, from the worker goroutine.
func (t *Trunk) StartAll(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.connections {
		if err := c.start(now); err != nil {
			c.onConnectError(err, now)
		}
	}
}

// CloseAll shuts down every connection, bounding how many close in
// parallel via closeSem so a large pool doesn't burst every socket
// teardown onto the runtime at once (§4.3, supplemented shutdown path —
// the spec names per-connection Close but not pool-wide teardown).
func (t *Trunk) CloseAll(ctx context.Context) {
	t.mu.Lock()
	conns := append([]*Connection(nil), t.connections...)
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		if err := t.closeSem.Acquire(ctx, 1); err != nil {
			t.logger.Warn("close acquire canceled", "error", err)
			break
		}
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			defer t.closeSem.Release(1)
			if err := c.Close(); err != nil {
				t.logger.Debug("close error on shutdown", "connection", c.index, "error", err)
			}
		}(c)
	}
	wg.Wait()
}

// Enqueue places req for dispatch (§4.5): onto a connection with spare ID
// capacity if one is ACTIVE and idle enough, else onto the trunk-wide
// backlog, else rejected with ErrCapacityExhausted. Status-Server must
// never be submitted this way (§4.6); that is enforced one layer up, in
// Dispatcher.Submit.
func (t *Trunk) Enqueue(req *ProtocolRequest, now time.Time) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.IsAllowed != nil && !t.cfg.IsAllowed(req.Code) {
		return -1, newErr(ErrKindCapacityExhausted, "code not allowed outbound", nil)
	}
	if t.allConnectionsDead() {
		return -1, ErrDestinationUnavailable
	}
	if t.pickConnection() == nil && t.cfg.BacklogLimit > 0 && t.backlog.Len() >= t.cfg.BacklogLimit {
		return -1, ErrCapacityExhausted
	}

	idx := t.allocEntry(req)
	t.placeRequest(req, now)
	return idx, nil
}

func (t *Trunk) allConnectionsDead() bool {
	for _, c := range t.connections {
		if c.state != ConnClosed {
			return false
		}
	}
	return len(t.connections) > 0
}

func (t *Trunk) allocEntry(req *ProtocolRequest) int32 {
	var idx int32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[idx] = req
	} else {
		idx = int32(len(t.entries))
		t.entries = append(t.entries, req)
	}
	req.trunkIndex = int(idx)
	return idx
}

func (t *Trunk) freeEntry(idx int) {
	if idx < 0 || idx >= len(t.entries) {
		return
	}
	t.entries[idx] = nil
	t.freeList = append(t.freeList, int32(idx))
}

// placeRequest finds a connection with ID capacity to receive req, else
// parks it on the backlog (returning NO_CAPACITY only happens when the
// caller checks backlog size itself; placeRequest always succeeds by
// falling back to the backlog).
func (t *Trunk) placeRequest(req *ProtocolRequest, now time.Time) {
	if c := t.pickConnection(); c != nil {
		req.connIndex = c.index
		req.state = queuePending
		c.pending().Enqueue(req, now)
		t.dispatchConnection(c, now)
		return
	}
	req.connIndex = -1
	req.state = queueBacklog
	t.backlog.Enqueue(req, now)
}

// pickConnection returns an ACTIVE connection with spare ID capacity,
// preferring the one with the fewest requests currently in flight (a
// simple least-loaded policy; the spec leaves connection selection within
// a trunk unspecified beyond "a connection that is writable").
func (t *Trunk) pickConnection() *Connection {
	var best *Connection
	bestLoad := 257
	for _, c := range t.connections {
		if c.state != ConnActive {
			continue
		}
		load := c.ids.Count()
		if load >= 256 {
			continue
		}
		if load < bestLoad {
			best = c
			bestLoad = load
		}
	}
	return best
}

// pending returns c's own priority queue (logically trunk-owned per
// §3/§4.5, stored on the Connection to avoid a side table).
func (c *Connection) pending() *pendingQueue { return c.pendingQ }

// dispatchConnection drains as much of conn's pending queue as the send
// limiter and the underlying socket allow, respecting that writes within
// one connection are issued strictly in priority order (§5) — a blocked
// partial write stops the drain until it completes.
func (t *Trunk) dispatchConnection(c *Connection, now time.Time) {
	if c.state != ConnActive && c.state != ConnStatusChecking {
		return
	}
	if c.partial != nil {
		t.continuePartial(c, now)
		if c.partial != nil {
			return
		}
	}
	for {
		req := c.pending().PopHighest()
		if req == nil {
			return
		}
		if !c.limiter.AllowAt(now) {
			c.pending().Enqueue(req, now)
			return
		}
		if !t.sendOne(c, req, now) {
			return // partial write in flight; resume next dispatch tick
		}
	}
}

// sendOne reserves an ID, encodes, and attempts one full write of req on
// c. Returns true if the write fully completed (request is now in the
// sent state with a running retry timer), false if the write is partial
// (stored on c.partial for continuePartial).
func (t *Trunk) sendOne(c *Connection, req *ProtocolRequest, now time.Time) bool {
	if req.IDEntry == nil {
		entry, err := c.ids.Reserve(int32(req.trunkIndex))
		if err != nil {
			// Connection is saturated; park back on the trunk for another
			// connection or the backlog.
			t.placeRequest(req, now)
			return true
		}
		req.IDEntry = entry
	}

	if req.Encoded == nil {
		addProxyState := t.cfg.Mode == ModeProxy
		encoded, err := t.codec.Encode(req, req.IDEntry.ID, addProxyState)
		if err != nil {
			c.ids.Release(req.IDEntry)
			req.IDEntry = nil
			t.finishRequest(req, ResultFail)
			return true
		}
		req.Encoded = encoded
		req.WriteOffset = 0
		c.ids.Update(req.IDEntry, requestAuthenticator(encoded))
	}

	n, err := c.socket.Write(req.Encoded[req.WriteOffset:])
	if err != nil {
		c.logger.Warn("write failed", "connection", c.index, "error", err)
		c.ids.Release(req.IDEntry)
		req.IDEntry = nil
		t.finishRequest(req, ResultFail)
		c.transitionToZombie(now)
		return true
	}
	req.WriteOffset += n
	if req.WriteOffset < len(req.Encoded) {
		c.partial = req
		req.state = queuePartial
		return false
	}

	c.partial = nil
	req.state = queueSent
	if !req.IsStatusCheck && c.ts.FirstSent.IsZero() {
		c.ts.FirstSent = now
	}
	c.ts.LastSent = now
	if req.Retry == nil {
		req.Retry = Initial(req.RetryCfg, now)
	}
	return true
}

// continuePartial resumes a previously blocked write.
func (t *Trunk) continuePartial(c *Connection, now time.Time) {
	req := c.partial
	n, err := c.socket.Write(req.Encoded[req.WriteOffset:])
	if err != nil {
		c.ids.Release(req.IDEntry)
		req.IDEntry = nil
		c.partial = nil
		t.finishRequest(req, ResultFail)
		c.transitionToZombie(now)
		return
	}
	req.WriteOffset += n
	if req.WriteOffset < len(req.Encoded) {
		return
	}
	c.partial = nil
	req.state = queueSent
	c.ts.LastSent = now
	if req.Retry == nil {
		req.Retry = Initial(req.RetryCfg, now)
	}
}

// requestAuthenticator extracts the first 16 bytes past the RADIUS header
// as the request authenticator the codec just signed with, so a later
// reply can be verified against it.
func requestAuthenticator(encoded []byte) [AuthenticatorLength]byte {
	var out [AuthenticatorLength]byte
	if len(encoded) >= AuthenticatorOffset+AuthenticatorLength {
		copy(out[:], encoded[AuthenticatorOffset:AuthenticatorOffset+AuthenticatorLength])
	}
	return out
}

// finishRequest resumes the original caller with result and releases the
// entry's arena slot. Status-check requests have no caller to resume
// (trunkIndex == -1) and are never finished, only reset.
func (t *Trunk) finishRequest(req *ProtocolRequest, result ResultCode) {
	if req.IsStatusCheck {
		return
	}
	if req.doneCh != nil {
		req.doneCh <- result
	}
	t.freeEntry(req.trunkIndex)
}

// HandleReadable decodes one datagram off c and routes it to its matching
// request, or to the status-check machinery if c is currently
// STATUS_CHECKING (§4.3, §4.4, §6).
func (t *Trunk) HandleReadable(c *Connection, raw []byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := raw[IDByteOffset]
	entry, ok := c.ids.Find(id)
	if !ok {
		c.logger.Debug("reply for unknown id, discarded", "connection", c.index, "id", id)
		return
	}

	decoded, err := t.codec.Decode(raw, entry.Authenticator, c.requireMA())
	if err != nil {
		c.logger.Debug("reply decode/verify failed, discarded", "connection", c.index, "id", id, "error", err)
		return
	}
	c.noteReplyAuthenticator(decoded.HadValidMessageAuthenticator)
	c.ts.LastReply = now

	if decoded.Code == CodeProtocolError {
		t.handleProtocolError(c, entry, decoded, now)
		return
	}

	if entry.Ctx < 0 {
		// Status-check reply: no trunk entry, routed straight to the
		// connection's liveness tracking.
		c.ids.Release(entry)
		c.onStatusCheckReply(now)
		return
	}

	req := t.entries[entry.Ctx]
	if req == nil {
		c.ids.Release(entry)
		return
	}
	c.ids.Release(entry)
	req.IDEntry = nil

	var result ResultCode
	switch decoded.Code {
	case CodeAccessChallenge:
		result = ResultUpdated
	case CodeAccessAccept, CodeAccountingResponse, CodeCoAACK, CodeDisconnectACK:
		result = ResultOK
	case CodeAccessReject, CodeCoANAK, CodeDisconnectNAK:
		result = ResultReject
	default:
		result = ResultFail
	}
	t.finishRequest(req, result)
}

// handleProtocolError applies the Response-Length buffer-growth hint and
// verifies Original-Packet-Code before treating the Protocol-Error as a
// terminal reply for its matching request (§6).
func (t *Trunk) handleProtocolError(c *Connection, entry *IdEntry, decoded DecodedPacket, now time.Time) {
	hint := parseProtocolError(decoded.Attributes)
	if hint.GrowBufferTo > 0 {
		c.growRecvBuffer(hint.GrowBufferTo)
	}

	if entry.Ctx < 0 {
		c.ids.Release(entry)
		c.onStatusCheckTimeout()
		return
	}
	req := t.entries[entry.Ctx]
	if req == nil {
		c.ids.Release(entry)
		return
	}

	c.ids.Release(entry)
	req.IDEntry = nil

	if hint.HasOriginalCode && hint.OriginalCodeValid && hint.OriginalCode != req.Code {
		c.logger.Warn("protocol-error original-packet-code mismatch", "connection", c.index, "expected", req.Code, "got", hint.OriginalCode)
		t.finishRequest(req, ResultFail)
		return
	}

	t.finishRequest(req, ResultHandled)
}

// sendStatusProbe builds and immediately sends a fresh status-check probe
// on c, bypassing the pending queue entirely since a connection's own
// probe always has absolute priority over its other traffic (§4.4).
func (t *Trunk) sendStatusProbe(c *Connection, now time.Time) {
	if c.statusCheck == nil {
		return
	}
	req := c.statusCheck.prepareProbe(c.ids)
	req.RecvTime = now
	t.sendOne(c, req, now)
}

// requeueSent releases every ID currently in use on c and resubmits the
// corresponding requests elsewhere in the trunk (another connection or
// the backlog), per the ACTIVE -> ZOMBIE transition's requeue step
// (§4.3). Status-check probes are reset in place, not requeued.
func (t *Trunk) requeueSent(c *Connection, now time.Time) {
	for id := 0; id < 256; id++ {
		entry, ok := c.ids.Find(byte(id))
		if !ok {
			continue
		}
		if entry.Ctx < 0 {
			c.ids.Release(entry)
			continue
		}
		req := t.entries[entry.Ctx]
		c.ids.Release(entry)
		if req == nil {
			continue
		}
		req.IDEntry = nil
		req.Encoded = nil
		req.WriteOffset = 0
		req.Retry = nil
		req.isRetry = true
		t.placeRequest(req, now)
	}
	if c.partial != nil {
		req := c.partial
		c.partial = nil
		req.Encoded = nil
		req.WriteOffset = 0
		t.placeRequest(req, now)
	}
}

// armZombieTimer and armReviveTimer record the deadline Tick watches for;
// the actual countdown is a polled sweep rather than a per-item OS timer
// (see worker.go).
func (t *Trunk) armZombieTimer(c *Connection) {
	c.pendingTimerKind = timerZombie
	c.pendingTimer = time.Now().Add(t.cfg.ZombiePeriod)
}

func (t *Trunk) armReviveTimer(c *Connection) {
	c.pendingTimerKind = timerRevive
	c.pendingTimer = time.Now().Add(t.cfg.ReviveInterval)
}

func (t *Trunk) onConnectionActive(c *Connection, now time.Time) {
	t.dispatchConnection(c, now)
}

func (t *Trunk) onConnectionInactive(c *Connection, now time.Time) {
	// Nothing extra here; outstanding requests are requeued later, when
	// the zombie timer fires (Connection.onZombieTimerFired).
}

// Tick sweeps every connection for expired timers and every in-flight
// request for an expired retry deadline (§4.2, §4.3, §4.7). It is the
// cooperative-single-thread model's stand-in for per-item OS timers: the
// worker calls Tick on a short period instead of arming one timer per
// outstanding item (see worker.go for why).
func (t *Trunk) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.connections {
		if c.state == ConnClosed {
			continue
		}
		if !c.pendingTimer.IsZero() && !now.Before(c.pendingTimer) {
			kind := c.pendingTimerKind
			c.pendingTimer = time.Time{}
			c.pendingTimerKind = timerNone
			switch kind {
			case timerZombie:
				c.onZombieTimerFired(now)
			case timerRevive:
				c.onReviveTimerFired(now)
			}
			continue
		}
		if c.state == ConnActive {
			c.checkForZombie(now)
		}
		t.tickRetries(c, now)
		t.dispatchConnection(c, now)
	}
}

// tickRetries fires any due retransmit for requests currently sent on c,
// including its status-check probe.
func (t *Trunk) tickRetries(c *Connection, now time.Time) {
	if c.statusCheck != nil && c.statusCheck.request.Retry != nil {
		req := c.statusCheck.request
		if !req.Retry.NextFire.IsZero() && !now.Before(req.Retry.NextFire) {
			c.onStatusCheckTimeout()
			t.sendStatusProbe(c, now)
		}
	}

	for id := 0; id < 256; id++ {
		entry, ok := c.ids.Find(byte(id))
		if !ok || entry.Ctx < 0 {
			continue
		}
		req := t.entries[entry.Ctx]
		if req == nil || req.Retry == nil || req.state != queueSent {
			continue
		}
		if req.Retry.NextFire.IsZero() || now.Before(req.Retry.NextFire) {
			continue
		}
		t.retryFire(c, req, now)
	}
}

func (t *Trunk) retryFire(c *Connection, req *ProtocolRequest, now time.Time) {
	outcome := req.Retry.Next(now)
	switch outcome {
	case RetryContinue:
		req.isRetry = true
		t.retryCount++
		req.WriteOffset = 0
		if !c.limiter.AllowAt(now) {
			return // this retransmit is skipped; the next attempt is at the already-advanced NextFire
		}
		n, err := c.socket.Write(req.Encoded)
		if err != nil {
			c.ids.Release(req.IDEntry)
			req.IDEntry = nil
			t.finishRequest(req, ResultFail)
			c.transitionToZombie(now)
			return
		}
		req.WriteOffset = n
		if n < len(req.Encoded) {
			c.partial = req
			req.state = queuePartial
		}
	case RetryMRCExceeded, RetryMRDExceeded:
		c.ids.Release(req.IDEntry)
		req.IDEntry = nil
		t.finishRequest(req, ResultFail)
		if t.cfg.Mode != ModeReplicate {
			c.checkForZombie(now)
		}
	}
}

// ForceRetransmit immediately resends the request at trunkIndex, ignoring
// its retry schedule, used for a DUP signal from an upstream proxy
// (§4.6, §9 unified retransmit path).
func (t *Trunk) ForceRetransmit(trunkIndex int32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(trunkIndex) < 0 || int(trunkIndex) >= len(t.entries) {
		return
	}
	req := t.entries[trunkIndex]
	if req == nil || req.state != queueSent || req.IDEntry == nil {
		return
	}
	c := t.connections[req.connIndex]
	req.isRetry = true
	t.retryCount++
	req.WriteOffset = 0
	n, err := c.socket.Write(req.Encoded)
	if err != nil {
		return
	}
	req.WriteOffset = n
	if n < len(req.Encoded) {
		c.partial = req
		req.state = queuePartial
	}
}

// Cancel removes trunkIndex from wherever it currently sits (backlog,
// pending, partial, or sent) and resumes its caller with ResultFail without
// waiting for any reply (§5 cancellation).
func (t *Trunk) Cancel(trunkIndex int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(trunkIndex) < 0 || int(trunkIndex) >= len(t.entries) {
		return
	}
	req := t.entries[trunkIndex]
	if req == nil {
		return
	}
	switch req.state {
	case queueBacklog:
		t.backlog.Remove(req)
	case queuePending:
		if req.connIndex >= 0 {
			t.connections[req.connIndex].pending().Remove(req)
		}
	case queueSent, queuePartial:
		if req.connIndex >= 0 {
			c := t.connections[req.connIndex]
			if req.IDEntry != nil {
				c.ids.Release(req.IDEntry)
			}
			if c.partial == req {
				c.partial = nil
			}
		}
	}
	req.state = queueCancel
	t.finishRequest(req, ResultFail)
}

// --- metrics.TrunkStatsProvider ---

func (t *Trunk) ConnectionCounts() metrics.ConnectionCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var counts metrics.ConnectionCounts
	for _, c := range t.connections {
		switch c.state {
		case ConnInit:
			counts.Init++
		case ConnConnecting:
			counts.Connecting++
		case ConnStatusChecking:
			counts.StatusChecking++
		case ConnActive:
			counts.Active++
		case ConnZombie:
			counts.Zombie++
		case ConnDeadRevive:
			counts.DeadRevive++
		}
	}
	return counts
}

func (t *Trunk) InFlightCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.connections {
		n += c.ids.Count()
	}
	return n
}

func (t *Trunk) BacklogDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.backlog.Len()
}

func (t *Trunk) RetryCount() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

func (t *Trunk) ZombieTransitionCount() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.zombieTransitions
}

const (
	timerNone = iota
	timerZombie
	timerRevive
)
