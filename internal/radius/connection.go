package radius

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ConnState is one state of the per-connection state machine (§4.3).
type ConnState int

const (
	ConnInit ConnState = iota
	ConnConnecting
	ConnStatusChecking
	ConnActive
	ConnZombie
	ConnDeadRevive
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnInit:
		return "init"
	case ConnConnecting:
		return "connecting"
	case ConnStatusChecking:
		return "status_checking"
	case ConnActive:
		return "active"
	case ConnZombie:
		return "zombie"
	case ConnDeadRevive:
		return "dead_revive"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connTimestamps tracks the clock fields the state machine and the zombie
// check read (§4.3, §4.7).
type connTimestamps struct {
	LastReply time.Time
	FirstSent time.Time
	LastSent  time.Time
	LastIdle  time.Time
}

// Connection is one socket in a Trunk's pool (§3, §4.3). It owns its own
// 256-slot ID space, receive buffer, and send limiter; it never reaches
// into another connection's state.
type Connection struct {
	id     string // uuid, for logging and instance tagging
	index  int    // stable slot within Trunk.connections
	trunk  *Trunk
	socket Socket
	logger *slog.Logger

	ids       *IdTracker
	recvBuf   []byte
	state     ConnState
	ts        connTimestamps
	limiter   *sendLimiter

	// requireMAUpgraded records that RequireMAAuto has seen a valid
	// Message-Authenticator on this connection and should now require one
	// on every subsequent reply (§6).
	requireMAUpgraded bool

	statusCheck *StatusCheck // nil if status checks are disabled trunk-wide

	// pendingTimer/pendingTimerKind hold the single outstanding
	// zombie-period or revive-interval deadline for this connection, swept
	// by Trunk.Tick rather than an OS timer per item (see worker.go).
	pendingTimer     time.Time
	pendingTimerKind int

	pendingQ *pendingQueue    // this connection's own priority queue, trunk-owned logically (§3/§4.5)
	partial  *ProtocolRequest // at most one partial write in flight (§5: writes are issued in priority order within a connection)
}

func newConnection(tr *Trunk, index int, socket Socket) *Connection {
	return &Connection{
		id:       uuid.NewString(),
		index:    index,
		trunk:    tr,
		socket:   socket,
		logger:   tr.logger.With("connection", index),
		ids:      NewIdTracker(),
		recvBuf:  make([]byte, tr.cfg.MaxPacketSize),
		state:    ConnInit,
		limiter:  newSendLimiter(defaultSendLimiterConfig()),
		pendingQ: newPendingQueue(),
	}
}

func (c *Connection) State() ConnState { return c.state }

// start issues the connect and moves INIT -> CONNECTING -> (on success)
// STATUS_CHECKING/ACTIVE (§4.3). RADIUS runs over connected UDP, whose
// "connect" only binds a default peer and never blocks on the network, so
// there is no separate writable-readiness callback to wait for here —
// unlike a stream socket, success is known immediately.
func (c *Connection) start(now time.Time) error {
	if c.state != ConnInit && c.state != ConnDeadRevive {
		return newErr(ErrKindSocketIO, "start called from unexpected state "+c.state.String(), nil)
	}
	c.state = ConnConnecting
	c.id = uuid.NewString()
	if err := c.socket.Connect(); err != nil {
		return newErr(ErrKindSocketIO, "connect", err)
	}
	if c.trunk.cfg.Mode == ModeReplicate {
		if err := c.socket.WriteOnly(); err != nil {
			return newErr(ErrKindSocketIO, "write-only transition", err)
		}
	}
	c.onConnected(now)
	return nil
}

// onConnected handles connect completion: CONNECTING -> STATUS_CHECKING if
// status checks are configured, else CONNECTING -> ACTIVE (§4.3).
func (c *Connection) onConnected(now time.Time) {
	if c.state != ConnConnecting {
		return
	}
	c.ts.LastIdle = now
	if c.statusCheck != nil {
		c.enterStatusChecking(now)
		return
	}
	c.enterActive(now)
}

func (c *Connection) enterActive(now time.Time) {
	c.state = ConnActive
	c.ts.LastIdle = now
	c.logger.Info("connection active", "id", c.id)
	c.trunk.onConnectionActive(c, now)
}

func (c *Connection) enterStatusChecking(now time.Time) {
	c.state = ConnStatusChecking
	c.statusCheck.streak = 0
	c.logger.Debug("connection status-checking", "id", c.id)
	c.trunk.sendStatusProbe(c, now)
}

// onStatusCheckReply records one good status-check reply. Once
// num_answers_to_alive contiguous good replies are seen, STATUS_CHECKING ->
// ACTIVE (§4.4).
func (c *Connection) onStatusCheckReply(now time.Time) {
	if c.state != ConnStatusChecking {
		return
	}
	c.statusCheck.streak++
	c.ts.LastReply = now
	if c.statusCheck.streak >= c.trunk.cfg.NumAnswersToAlive {
		c.enterActive(now)
		return
	}
	c.trunk.sendStatusProbe(c, now)
}

// onStatusCheckTimeout resets the contiguous-good-reply streak; the probe
// schedule itself is driven by the status check's own RetryState (§4.4).
func (c *Connection) onStatusCheckTimeout() {
	if c.state != ConnStatusChecking {
		return
	}
	c.statusCheck.streak = 0
}

// transitionToZombie moves ACTIVE -> ZOMBIE (§4.3, §4.7). It is a no-op
// once already ZOMBIE or STATUS_CHECKING, matching the idempotency
// required by §8 (a connection never re-enters ZOMBIE from ZOMBIE).
func (c *Connection) transitionToZombie(now time.Time) {
	if c.state == ConnZombie || c.state == ConnStatusChecking || c.state == ConnClosed {
		return
	}
	c.state = ConnZombie
	c.trunk.zombieTransitions++
	c.logger.Warn("connection zombie", "id", c.id, "last_reply", c.ts.LastReply, "last_sent", c.ts.LastSent)
	c.trunk.onConnectionInactive(c, now)

	if c.statusCheck != nil {
		c.enterStatusChecking(now)
		return
	}

	c.trunk.armZombieTimer(c)
}

// checkForZombie evaluates the ACTIVE -> ZOMBIE timing rule (§4.3, §4.7):
// if response_window has passed since the connection's last send
// (ts.LastSent) with no reply since, the connection is declared zombie.
// Returns true if the connection is (now, or already was) inactive.
func (c *Connection) checkForZombie(now time.Time) bool {
	if c.state == ConnZombie || c.state == ConnStatusChecking || c.state == ConnClosed {
		return true
	}
	if c.ts.LastSent.IsZero() {
		return false
	}
	if !c.ts.LastReply.Before(c.ts.LastSent) {
		return false
	}
	if now.Sub(c.ts.LastSent) >= c.trunk.cfg.ResponseWindow {
		c.transitionToZombie(now)
		return true
	}
	return false
}

// onZombieTimerFired handles the zombie_period expiry (§4.3): requeue
// every sent request on this connection, then either go to DEAD_REVIVE and
// wait revive_interval (status checks disabled) or reconnect directly.
func (c *Connection) onZombieTimerFired(now time.Time) {
	c.trunk.requeueSent(c, now)

	if c.statusCheck == nil {
		c.state = ConnDeadRevive
		c.trunk.armReviveTimer(c)
		return
	}
	c.reconnect(now)
}

// onReviveTimerFired handles the revive_interval expiry (§4.3):
// DEAD_REVIVE -> CONNECTING, retrying the socket connect.
func (c *Connection) onReviveTimerFired(now time.Time) {
	c.reconnect(now)
}

func (c *Connection) reconnect(now time.Time) {
	if err := c.start(now); err != nil {
		c.onConnectError(err, now)
	}
}

// onConnectError handles a failed non-blocking connect: stay out of
// ACTIVE, schedule another attempt after revive_interval.
func (c *Connection) onConnectError(err error, now time.Time) {
	c.logger.Warn("connect failed", "id", c.id, "error", err)
	c.state = ConnDeadRevive
	c.trunk.armReviveTimer(c)
}

// Close releases the socket and marks the connection permanently out of
// service (§4.3). A closed connection never transitions again.
func (c *Connection) Close() error {
	if c.state == ConnClosed {
		return nil
	}
	c.state = ConnClosed
	if err := c.socket.Shutdown(); err != nil {
		c.logger.Debug("shutdown error on close", "id", c.id, "error", err)
	}
	return c.socket.Close()
}

// growRecvBuffer enlarges the receive buffer to at least n bytes, clamped
// to [MinReceiveBufferSize, MaxPacketSize] by the caller (protoerror.go's
// clampBufferSize), per the Protocol-Error Response-Length negotiation
// (§6).
func (c *Connection) growRecvBuffer(n int) {
	if n <= len(c.recvBuf) {
		return
	}
	buf := make([]byte, n)
	copy(buf, c.recvBuf)
	c.recvBuf = buf
}

// requireMA reports whether this connection currently enforces
// Message-Authenticator verification, resolving RequireMAAuto against
// whether an upgrade has already happened (§6).
func (c *Connection) requireMA() bool {
	switch c.trunk.cfg.RequireMessageAuthenticator {
	case RequireMAYes:
		return true
	case RequireMAAuto:
		return c.requireMAUpgraded
	default:
		return false
	}
}

// noteReplyAuthenticator upgrades an AUTO policy to enforcing after the
// first valid Message-Authenticator is observed on this connection (§6).
func (c *Connection) noteReplyAuthenticator(hadValid bool) {
	if c.trunk.cfg.RequireMessageAuthenticator == RequireMAAuto && hadValid {
		c.requireMAUpgraded = true
	}
}
