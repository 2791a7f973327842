package cluster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const maxMessageBytes = 1 << 20

// writeMessage frames m as a 4-byte big-endian length prefix followed by
// its gob-encoded bytes and writes it to w.
func writeMessage(w io.Writer, m Message) error {
	payload, err := encodeMessage(m)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("cluster: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("cluster: write frame payload: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed frame from r and decodes it.
func readMessage(r *bufio.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxMessageBytes {
		return nil, fmt.Errorf("cluster: frame of %d bytes exceeds %d byte limit", n, maxMessageBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("cluster: read frame payload: %w", err)
	}
	return decodeMessage(payload)
}
