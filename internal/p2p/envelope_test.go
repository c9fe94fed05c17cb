package p2p

import (
	"bytes"
	"testing"

	"github.com/pallaschain/pallas/internal/types"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := EncodePayload(&types.Prevote{Height: 1, Round: 0, LockedRound: types.NoRound})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	env := &Envelope{Kind: types.KindPrevote, Height: 1, Round: 0, ValidatorIndex: 2, Payload: payload}

	raw, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if decoded.Height != env.Height || decoded.Kind != env.Kind || decoded.ValidatorIndex != env.ValidatorIndex {
		t.Fatalf("envelope round trip mismatch: got %+v", decoded)
	}

	var v types.Prevote
	if err := DecodePayload(decoded.Payload, &v); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if v.Height != 1 || v.Round != 0 {
		t.Fatalf("payload round trip mismatch: got %+v", v)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello consensus")
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf, 1024)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame round trip mismatch: got %q", got)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	_ = writeFrame(&buf, make([]byte, 100))
	if _, err := readFrame(&buf, 10); err == nil {
		t.Fatalf("expected oversized frame to be rejected")
	}
}
