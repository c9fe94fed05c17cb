// Package p2p implements the peer transport interface of spec.md §6.3 and
// the wire-level envelope of §6.4, backed by github.com/libp2p/go-libp2p
// (the teacher's entire networking dependency tree: go-libp2p, multiaddr,
// the multiformats stack). Broadcast and direct send both move a length-
// delimited Envelope over libp2p streams; the transport authenticates peer
// identity via libp2p's handshake but — as spec.md §6.3 requires — never
// validates consensus signatures itself, leaving that to internal/store.
package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pallaschain/pallas/internal/types"
)

// Envelope is the wire frame for every consensus message kind in
// spec.md §6.4: "(height, round?, validator_id, payload, signature)".
// Payload carries the gob encoding of the concrete message
// (types.Proposal, types.Prevote, ...); Envelope framing itself is never
// hashed, only the canon-encoded payload inside consensus messages is —
// see internal/canon's package doc for why gob isn't used for that part.
type Envelope struct {
	Kind           types.MessageKind
	Height         types.Height
	Round          types.Round
	ValidatorIndex types.ValidatorIndex
	Payload        []byte
	Signature      types.Signature

	// ResponseTo correlates a response envelope with the RequestID of the
	// request it answers (see internal/sync), rather than doubling the
	// MessageKind space with per-kind response kinds.
	ResponseTo string
}

// EncodeEnvelope frames e for the wire.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("p2p: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope unframes an Envelope received from a peer.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("p2p: decode envelope: %w", err)
	}
	return &e, nil
}

// EncodePayload gob-encodes a concrete message kind for embedding in an
// Envelope's Payload field.
func EncodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("p2p: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload decodes an Envelope's Payload into dst (a pointer to a
// concrete message type).
func DecodePayload(payload []byte, dst any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(dst); err != nil {
		return fmt.Errorf("p2p: decode payload: %w", err)
	}
	return nil
}
