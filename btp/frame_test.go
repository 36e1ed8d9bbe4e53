package btp

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Type:      TypeMessage,
		RequestID: 42,
		SubProtocols: []SubProtocolData{
			{ProtocolName: SubProtocolAuth, Payload: []byte("token-abc")},
			{ProtocolName: SubProtocolILP, Payload: []byte{1, 2, 3}},
		},
	}
	enc := Encode(f)
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Type != f.Type || dec.RequestID != f.RequestID || len(dec.SubProtocols) != 2 {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
	payload, ok := dec.ILPPayload()
	if !ok || !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Fatalf("expected ilp payload to round trip, got %v ok=%v", payload, ok)
	}
}

func TestFrameEmptySubProtocols(t *testing.T) {
	f := Frame{Type: TypeMessage, RequestID: 1}
	enc := Encode(f)
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.SubProtocols) != 0 {
		t.Fatalf("expected no sub-protocols, got %d", len(dec.SubProtocols))
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{byte(TypeMessage), 0, 0, 0, 1, 0, 1}, // claims 1 sub-protocol but no data
		{99, 0, 0, 0, 1, 0, 0},                // unknown type
	}
	for _, c := range cases {
		if _, err := Decode(c); err != ErrFrameMalformed {
			t.Errorf("Decode(%x) = %v, want ErrFrameMalformed", c, err)
		}
	}
}

func TestDecodeRandomNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Decode panicked on %x: %v", buf, r)
				}
			}()
			_, _ = Decode(buf)
		}()
	}
}
