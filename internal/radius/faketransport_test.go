package radius

import (
	"sync"
)

// fakeSocket is an in-memory Socket stand-in. Writes are recorded rather
// than sent anywhere; reads are served from a channel a test feeds
// directly, modeling the remote peer's replies.
type fakeSocket struct {
	mu         sync.Mutex
	connectErr error
	writeErr   error
	closed     bool
	writeOnly  bool
	writes     [][]byte
	reads      chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{reads: make(chan []byte, 16)}
}

func (s *fakeSocket) Connect() error { return s.connectErr }

func (s *fakeSocket) Read(buf []byte) (int, error) {
	data, ok := <-s.reads
	if !ok {
		return 0, nil
	}
	n := copy(buf, data)
	return n, nil
}

func (s *fakeSocket) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cp := append([]byte(nil), b...)
	s.writes = append(s.writes, cp)
	return len(b), nil
}

func (s *fakeSocket) WriteOnly() error {
	s.writeOnly = true
	return nil
}

func (s *fakeSocket) Shutdown() error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) lastWrite() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	return s.writes[len(s.writes)-1]
}

func (s *fakeSocket) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// fakeCodec is a no-op Codec stand-in: Encode produces a fixed-size
// header-only datagram stamped with id, Decode reads the id back out and
// returns a preconfigured code/attributes/authenticator-valid flag.
type fakeCodec struct {
	mu            sync.Mutex
	decodeCode    int
	decodeAttrs   Attributes
	decodeMAValid bool
	decodeErr     error
	encodeErr     error
}

func (c *fakeCodec) Encode(req *ProtocolRequest, id byte, addProxyState bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	buf := make([]byte, HeaderLength)
	buf[0] = byte(req.Code)
	buf[IDByteOffset] = id
	return buf, nil
}

func (c *fakeCodec) Decode(raw []byte, requestAuthenticator [AuthenticatorLength]byte, requireMA bool) (DecodedPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeErr != nil {
		return DecodedPacket{}, c.decodeErr
	}
	return DecodedPacket{Code: c.decodeCode, Attributes: c.decodeAttrs, HadValidMessageAuthenticator: c.decodeMAValid}, nil
}

// replyDatagram builds a minimal raw datagram carrying id at the wire
// offset HandleReadable reads it from.
func replyDatagram(code int, id byte) []byte {
	buf := make([]byte, HeaderLength)
	buf[0] = byte(code)
	buf[IDByteOffset] = id
	return buf
}
