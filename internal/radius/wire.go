// Package radius implements an outbound RADIUS client transport: a
// connection-pooled, retry-aware dispatcher that multiplexes exchanges
// over one or more connections to a single remote RADIUS server.
//
// Wire encoding/signing of RADIUS datagrams, attribute dictionary lookups,
// and the Status-Server packet format itself are external collaborators;
// this package only names their contract (Codec) and drives it.
package radius

import "time"

// RADIUS wire constants used directly by the transport.
const (
	HeaderLength         = 20
	AuthenticatorOffset  = 4
	IDByteOffset         = 1
	MaxPacketSize        = 65535
	MinPacketSize        = HeaderLength
	MaxAttributeSize     = 255
	MinReceiveBufferSize = 4096

	// Packet codes the transport must recognize directly (routing,
	// negotiation, and the reserved probe code). Dictionary lookups for
	// every other attribute are an external collaborator's job.
	CodeAccessRequest      = 1
	CodeAccessAccept       = 2
	CodeAccessReject       = 3
	CodeAccountingRequest  = 4
	CodeAccountingResponse = 5
	CodeAccessChallenge    = 11
	CodeStatusServer       = 12
	CodeDisconnectRequest  = 40
	CodeDisconnectACK      = 41
	CodeDisconnectNAK      = 42
	CodeCoARequest         = 43
	CodeCoAACK             = 44
	CodeCoANAK             = 45
	CodeProtocolError      = 52
)

// AuthenticatorLength is the size in bytes of a RADIUS request/response
// authenticator.
const AuthenticatorLength = 16

// AttrMessageAuthenticator is the RADIUS attribute type for
// Message-Authenticator (§6, §4.6). Dispatcher.Submit inspects the
// caller's attribute list for this type directly, without going through
// a full dictionary lookup, since it only ever needs to detect presence
// and strip it before the codec re-adds its own at encode time.
const AttrMessageAuthenticator = 80

// Mode selects the transport's role, which in turn selects retry policy
// and read/write direction (§6).
type Mode int

const (
	// ModeClient issues requests directly and expects a reply per request.
	ModeClient Mode = iota
	// ModeProxy forwards requests on behalf of an upstream proxy; DUP
	// signals from that upstream may trigger retransmits instead of an
	// internally-driven retry schedule.
	ModeProxy
	// ModeReplicate fires requests at a connection that is write-only
	// after connect and never expects a matched reply.
	ModeReplicate
)

func (m Mode) String() string {
	switch m {
	case ModeClient:
		return "client"
	case ModeProxy:
		return "proxy"
	case ModeReplicate:
		return "replicate"
	default:
		return "unknown"
	}
}

// RequireMA selects Message-Authenticator enforcement policy (§6).
type RequireMA int

const (
	RequireMANo RequireMA = iota
	RequireMAYes
	RequireMAAuto
)

// ResultCode is the outcome a submitted request ultimately resumes with
// (§7, exactly one of these per submitted request).
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultUpdated
	ResultReject
	ResultHandled
	ResultFail
	ResultNoop
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultUpdated:
		return "updated"
	case ResultReject:
		return "reject"
	case ResultHandled:
		return "handled"
	case ResultFail:
		return "fail"
	case ResultNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// DecodedPacket is what an external Codec hands back after a successful
// decode: a packet code plus its decoded attribute list. Attribute
// dictionary lookups live entirely inside that external collaborator;
// this package only needs the code and an opaque handle to the rest.
type DecodedPacket struct {
	Code       int
	Attributes Attributes

	// HadValidMessageAuthenticator lets AUTO policy upgrade to YES after
	// observing one valid Message-Authenticator in a reply (§6).
	HadValidMessageAuthenticator bool
}

// Attributes is an opaque bag of RADIUS attributes. This package never
// interprets attribute contents except for the small set of Protocol-Error
// fields described in §6, which the Codec's Decode surfaces via
// DecodedPacket.Attributes and this package's protoerror.go reads
// positionally off the raw bytes (not through the dictionary).
type Attributes interface {
	// Get returns the raw value bytes for the first attribute of the
	// given type, or nil, false if absent.
	Get(attrType byte) ([]byte, bool)
}

// MutableAttributes is implemented by an Attributes bag that also
// supports removing an attribute. Dispatcher.Submit uses it, when
// available, to strip a caller-supplied Message-Authenticator so the
// codec's own copy (added at encode time) is never duplicated on the
// wire (§4.6). A bag that only implements Attributes still gets the
// RequireMA flag set, just without the deletion.
type MutableAttributes interface {
	Attributes
	Delete(attrType byte)
}

// Codec is the external collaborator that encodes and signs outgoing
// datagrams and decodes and verifies incoming ones. This package never
// computes a RADIUS signature itself (§1 Out of scope).
type Codec interface {
	// Encode produces a signed RADIUS datagram for req using id. If
	// addProxyState, a Proxy-State attribute carrying the configured
	// value is appended to req's extra attribute list (not its main
	// list, so concurrent encodes of the same request never race on a
	// shared attribute slice).
	Encode(req *ProtocolRequest, id byte, addProxyState bool) ([]byte, error)

	// Decode verifies and decodes a raw datagram using the request
	// authenticator saved at encode time, enforcing requireMA per the
	// transport's configured policy for this exchange.
	Decode(raw []byte, requestAuthenticator [AuthenticatorLength]byte, requireMA bool) (DecodedPacket, error)
}

// Socket is the external collaborator providing datagram I/O for one
// Connection. RADIUS runs over connected UDP, so Connect only binds a
// default peer and returns immediately; Read is called from a dedicated
// per-connection goroutine (worker.go's readLoop) and is expected to block
// until a datagram arrives.
type Socket interface {
	// Connect binds the socket to its remote peer. For UDP this never
	// blocks on the network; success is known immediately.
	Connect() error
	// Read blocks until one full datagram is available and returns its
	// length. A zero-length read (0, nil) is valid and never treated as
	// an error.
	Read(buf []byte) (int, error)
	// Write performs one write starting at the beginning of b, returning
	// the number of bytes accepted; a short write leaves the remainder
	// for the caller to retry.
	Write(b []byte) (int, error)
	// WriteOnly transitions the socket to write-only mode, used by
	// ModeReplicate after connect (§6).
	WriteOnly() error
	// Shutdown performs shutdown(RDWR) semantics.
	Shutdown() error
	// Close releases the underlying descriptor.
	Close() error
}

// ClockNow is the signature of an injectable clock. No component in this
// package takes one: Trunk and Connection methods receive the current
// time as a now argument instead.
type ClockNow func() time.Time
