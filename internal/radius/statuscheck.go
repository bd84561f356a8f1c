package radius

// StatusCheck is the liveness-probe state attached to one connection when
// status checks are enabled (§4.4). Its request is built once and reused
// for the connection's lifetime — it is reset, never freed, matching the
// "connection-scoped, never freed" note on ProtocolRequest.
type StatusCheck struct {
	request *ProtocolRequest
	attrs   Attributes
	streak  int // contiguous good replies since the last reset
	retry   RetryConfig
}

// newStatusCheck builds the reusable probe for one connection. attrs is
// the (typically near-empty) attribute template the embedding caller
// wants attached to every Status-Server probe; code is normally
// CodeStatusServer but the spec leaves the exact probe code to
// configuration (§4.4, §6).
func newStatusCheck(code int, attrs Attributes, retry RetryConfig) *StatusCheck {
	return &StatusCheck{
		attrs: attrs,
		retry: retry,
		request: &ProtocolRequest{
			Code:          code,
			IsStatusCheck: true,
			Priority:      maxPriority,
			Attributes:    attrs,
			// trunkIndex stays -1 for the lifetime of this request: a
			// status-check probe never occupies a Trunk.entries slot, so
			// its reserved IdEntry's Ctx must read negative for
			// HandleReadable/handleProtocolError to route its replies
			// here instead of mistaking them for trunk entry 0 (§4.4).
			connIndex:  -1,
			trunkIndex: -1,
		},
	}
}

// maxPriority is the Priority value status-check probes carry so
// requestLess always orders them first among a connection's own pending
// items (the IsStatusCheck flag alone already guarantees first place; this
// just keeps the field meaningful if ever compared directly).
const maxPriority = ^uint32(0)

// prepareProbe resets the reusable request for a fresh send: a new ID is
// reserved below by the Trunk's dispatch path, never reused from the
// previous probe, since status checks are never retransmitted with the
// same ID — each probe is its own exchange (§4.4). If the previous probe
// never received a reply, its IdEntry is still held on ids and must be
// released here, or every timed-out probe leaks one of the connection's
// 256 ids until the tracker saturates.
func (s *StatusCheck) prepareProbe(ids *IdTracker) *ProtocolRequest {
	if s.request.IDEntry != nil {
		ids.Release(s.request.IDEntry)
	}
	s.request.Encoded = nil
	s.request.WriteOffset = 0
	s.request.IDEntry = nil
	s.request.Retry = nil
	s.request.RetryCfg = s.retry
	s.request.isRetry = false
	return s.request
}
