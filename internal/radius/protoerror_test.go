package radius

import (
	"encoding/binary"
	"testing"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestParseProtocolError_BufferGrowthClamped(t *testing.T) {
	attrs := fakeAttrs{
		attrErrorCause:     u32(errorCauseResponseTooBig),
		attrResponseLength: u32(8000),
	}
	hint := parseProtocolError(attrs)
	if hint.GrowBufferTo != 8000 {
		t.Fatalf("GrowBufferTo = %d, want 8000", hint.GrowBufferTo)
	}
}

func TestParseProtocolError_ClampsAboveMax(t *testing.T) {
	attrs := fakeAttrs{
		attrErrorCause:     u32(errorCauseResponseTooBig),
		attrResponseLength: u32(120000),
	}
	hint := parseProtocolError(attrs)
	if hint.GrowBufferTo != MaxPacketSize {
		t.Fatalf("GrowBufferTo = %d, want %d", hint.GrowBufferTo, MaxPacketSize)
	}
}

func TestParseProtocolError_ClampsBelowMin(t *testing.T) {
	attrs := fakeAttrs{
		attrErrorCause:     u32(errorCauseResponseTooBig),
		attrResponseLength: u32(100),
	}
	hint := parseProtocolError(attrs)
	if hint.GrowBufferTo != MinReceiveBufferSize {
		t.Fatalf("GrowBufferTo = %d, want %d", hint.GrowBufferTo, MinReceiveBufferSize)
	}
}

func TestParseProtocolError_OtherCauseNoGrowth(t *testing.T) {
	attrs := fakeAttrs{
		attrErrorCause:     u32(501),
		attrResponseLength: u32(8000),
	}
	hint := parseProtocolError(attrs)
	if hint.GrowBufferTo != 0 {
		t.Fatalf("GrowBufferTo = %d, want 0 (no growth)", hint.GrowBufferTo)
	}
}

func TestParseProtocolError_OriginalPacketCodeMatch(t *testing.T) {
	attrs := fakeAttrs{
		attrExtendedAttribute1: []byte{extTypeOriginalPacketCode, 0, 0, 0, CodeAccessRequest},
	}
	hint := parseProtocolError(attrs)
	if !hint.HasOriginalCode || !hint.OriginalCodeValid {
		t.Fatal("expected a valid original code")
	}
	if hint.OriginalCode != CodeAccessRequest {
		t.Fatalf("OriginalCode = %d, want %d", hint.OriginalCode, CodeAccessRequest)
	}
}

func TestParseProtocolError_MalformedExtendedAttributeNotValid(t *testing.T) {
	attrs := fakeAttrs{
		attrExtendedAttribute1: []byte{extTypeOriginalPacketCode, 1, 0, 0, CodeAccessRequest},
	}
	hint := parseProtocolError(attrs)
	if hint.OriginalCodeValid {
		t.Fatal("expected malformed extended attribute to be invalid")
	}
}
