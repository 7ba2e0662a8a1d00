// Package pktline implements Git's pkt-line framing: every message on the
// wire (ref advertisements, want/have negotiation, push commands) is
// wrapped in a 4-byte hex length prefix.
package pktline

import (
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/xerrors"
)

// MaxLen is the largest payload a single frame can carry, per the
// protocol's 4 hex-digit length field (0xffff, length prefix included).
const MaxLen = 0xffff - 4

// FlushPkt is the 4-byte frame that signals the end of a list of frames
const FlushPkt = "0000"

// ErrFrameTooLarge is returned by WriteFrame when the payload plus its
// 4-byte length header would not fit in 4 hex digits
var ErrFrameTooLarge = errors.New("pkt-line payload too large")

// ErrInvalidLength is returned by ReadFrame when the 4-byte length
// header isn't valid hexadecimal
var ErrInvalidLength = errors.New("pkt-line length is not valid hex")

// ReadFrame reads a single pkt-line frame from r. A flush packet
// ("0000") is reported as a zero length and a nil payload, with no
// error - callers should check len(payload) == 0 to detect it.
func ReadFrame(r io.Reader) (int, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, xerrors.Errorf("could not read pkt-line length: %w", err)
	}

	length := hexLen(lenBuf)
	if length < 0 {
		return 0, nil, xerrors.Errorf("%q: %w", string(lenBuf[:]), ErrInvalidLength)
	}

	if length == 0 {
		return 0, nil, nil
	}
	if length < 4 {
		return 0, nil, xerrors.Errorf("pkt-line length %d is smaller than the header: %w", length, ErrInvalidLength)
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, xerrors.Errorf("could not read pkt-line payload: %w", err)
	}
	return length, payload, nil
}

func hexLen(b [4]byte) int {
	v, err := hex.DecodeString(string(b[:]))
	if err != nil || len(v) != 2 {
		return -1
	}
	return int(v[0])<<8 | int(v[1])
}

// WriteFrame writes payload as a single pkt-line frame: a 4 hex-digit
// length (including the 4 digits themselves) followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	total := len(payload) + 4
	if total > 0xffff {
		return xerrors.Errorf("payload of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}
	header := make([]byte, 4)
	hex.Encode(header, []byte{byte(total >> 8), byte(total)})
	if _, err := w.Write(header); err != nil {
		return xerrors.Errorf("could not write pkt-line header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return xerrors.Errorf("could not write pkt-line payload: %w", err)
	}
	return nil
}

// WriteFlush writes the flush packet ("0000")
func WriteFlush(w io.Writer) error {
	if _, err := w.Write([]byte(FlushPkt)); err != nil {
		return xerrors.Errorf("could not write flush-pkt: %w", err)
	}
	return nil
}
