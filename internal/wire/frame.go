package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame encodes v as a frame (4-byte little-endian length + CBOR
// payload) and writes it to w. Writes are flushed as a single call to
// w.Write per logical frame where possible; w is expected to be
// unbuffered or self-flushing (os.Stdout satisfies this).
func WriteFrame(w io.Writer, v any) error {
	payload, err := EncodePayload(v)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and decodes its payload into v.
// A length prefix exceeding MaxFrameLength is rejected before any
// allocation is made for the payload, per the frame contract.
func ReadFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wire: read frame payload: %w", err)
	}

	return DecodePayload(payload, v)
}

// WriteClientEvent writes one IconClientEvent frame to w.
func WriteClientEvent(w io.Writer, id uint64, event ClientEvent) error {
	return WriteFrame(w, IconClientEvent{ID: id, Event: event})
}

// ReadClientEvent reads one IconClientEvent frame from r.
func ReadClientEvent(r io.Reader) (IconClientEvent, error) {
	var v IconClientEvent
	err := ReadFrame(r, &v)
	return v, err
}

// WriteServerEvent writes one IconServerEvent frame to w.
func WriteServerEvent(w io.Writer, id uint64, event ServerEvent) error {
	return WriteFrame(w, IconServerEvent{ID: id, Event: event})
}

// ReadServerEvent reads one IconServerEvent frame from r.
func ReadServerEvent(r io.Reader) (IconServerEvent, error) {
	var v IconServerEvent
	err := ReadFrame(r, &v)
	return v, err
}
