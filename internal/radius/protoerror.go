package radius

import "encoding/binary"

// Protocol-Error (code 52) attribute numbers used for negotiation (§6).
const (
	attrErrorCause            = 101
	attrResponseLength        = 119 // RFC 8765 Response-Length, a 4-byte uint32
	attrExtendedAttribute1    = 241
	extTypeOriginalPacketCode = 1 // Original-Packet-Code inside Extended-Attribute-1
	errorCauseResponseTooBig  = 601
)

// clampBufferSize clamps n into [MinReceiveBufferSize, MaxPacketSize],
// per the boundary test in §8 ("grows the buffer to 8000, clamped to
// [4096,65535]").
func clampBufferSize(n int) int {
	if n < MinReceiveBufferSize {
		return MinReceiveBufferSize
	}
	if n > MaxPacketSize {
		return MaxPacketSize
	}
	return n
}

// protocolErrorHint is what parseProtocolError extracts from a
// Protocol-Error reply: whether the cause calls for enlarging the
// receive buffer, and whether the embedded Original-Packet-Code matches
// the request that triggered this reply.
type protocolErrorHint struct {
	GrowBufferTo       int  // 0 if no buffer-growth hint present
	HasOriginalCode    bool
	OriginalCode       int
	OriginalCodeValid  bool // false if the extended attribute was malformed
}

// parseProtocolError reads Error-Cause (attribute 101, 6 bytes, uint32)
// and Original-Packet-Code inside Extended-Attribute-1 (type=241, len=7,
// ext-type=Original-Packet-Code, three zero bytes, then a 1-byte code)
// directly off an attribute bag (§6). It never consults a dictionary —
// that is deliberately out of scope (§1) — it only knows the two fixed
// layouts the spec names.
func parseProtocolError(attrs Attributes) protocolErrorHint {
	var hint protocolErrorHint

	if raw, ok := attrs.Get(attrErrorCause); ok && len(raw) == 4 {
		cause := binary.BigEndian.Uint32(raw)
		if cause == errorCauseResponseTooBig {
			if respRaw, ok := attrs.Get(attrResponseLength); ok && len(respRaw) == 4 {
				respLen := int(binary.BigEndian.Uint32(respRaw))
				hint.GrowBufferTo = clampBufferSize(respLen)
			}
		}
	}

	if raw, ok := attrs.Get(attrExtendedAttribute1); ok && len(raw) == 5 {
		// raw here is the value after type+len bytes are stripped by the
		// Attributes implementation, i.e. ext-type(1) + 3 zero bytes +
		// code(1) = 5 bytes, matching "len=7" on the wire (2 header +
		// 5 value bytes).
		hint.HasOriginalCode = true
		if raw[0] == extTypeOriginalPacketCode && raw[1] == 0 && raw[2] == 0 && raw[3] == 0 {
			hint.OriginalCode = int(raw[4])
			hint.OriginalCodeValid = true
		}
	}

	return hint
}
