package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeFrame writes a length-delimited frame: a big-endian uint32 byte
// count followed by the payload, matching spec.md §6.3's "length-delimited
// byte arrays".
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-delimited frame, rejecting any frame larger
// than maxLen to bound memory use against a misbehaving peer.
func readFrame(r io.Reader, maxLen int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxLen {
		return nil, fmt.Errorf("p2p: frame of %d bytes exceeds max %d", n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
