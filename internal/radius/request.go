package radius

import "time"

// queueState is which of a connection's queues a ProtocolRequest
// currently occupies (§3 Trunk invariant: every enqueued request is in
// exactly one queue).
type queueState int

const (
	queueNone queueState = iota
	queueBacklog
	queuePending
	queuePartial
	queueSent
	queueCancel
)

func (s queueState) String() string {
	switch s {
	case queueBacklog:
		return "backlog"
	case queuePending:
		return "pending"
	case queuePartial:
		return "partial"
	case queueSent:
		return "sent"
	case queueCancel:
		return "cancel"
	default:
		return "none"
	}
}

// ProtocolRequest is one logical RADIUS exchange (§3). Ownership moves
// Dispatcher -> Trunk -> Connection (at dispatch) -> Trunk (at
// completion); a status-check request is connection-scoped and is reset,
// never freed.
type ProtocolRequest struct {
	Code          int
	Priority      uint32
	RecvTime      time.Time
	RequireMA     bool
	IsStatusCheck bool
	IsProxied     bool
	Attributes    Attributes
	ExtraProxyState []byte // appended by the codec at encode time, not part of Attributes

	// Wire state.
	Encoded     []byte
	WriteOffset int

	// IdTracker linkage. IDEntry is nil unless an ID is currently held.
	IDEntry *IdEntry

	// RetryCfg is the retry schedule this exchange was assigned at
	// submit time per §4.6's mode x code rule (resolved once by
	// Dispatcher.Submit via Trunk.retryConfigFor, or by
	// StatusCheck.prepareProbe for a probe). Retry.Initial is built from
	// this the first time the request is fully sent.
	RetryCfg RetryConfig

	// Retry state, set when the request is first sent.
	Retry *RetryState

	// queue bookkeeping.
	state      queueState
	heapIndex  int
	connIndex  int // index of the owning Connection within the Trunk, or -1
	trunkIndex int // this request's own slot in Trunk.entries, for opaque Ctx linkage

	// isRetry is set by the Trunk's retransmit paths (retryFire,
	// ForceRetransmit) and by requeueSent, marking a request that has
	// already been sent at least once.
	isRetry bool

	// doneCh is how Trunk.finishRequest resumes the caller blocked in
	// Dispatcher.Submit; nil for status-check requests, which are never
	// finished (§4.4).
	doneCh chan ResultCode
}

// ResultSlot holds the outcome for one enqueued ProtocolRequest (§3). It
// is destroyed when the Dispatcher resumes its caller.
type ResultSlot struct {
	Result     ResultCode
	TrunkEntry int32
	IsRetry    bool
}
