// Package protocol implements the wire codec primitives shared by the
// binary probe protocols: variable-length integers (7 data bits per byte,
// continuation bit high, little-endian group order) and varint
// length-prefixed UTF-8 strings. The primitives know nothing about any
// specific packet's semantics.
package protocol

import (
	"errors"
	"fmt"
	"io"
)

// maxVarIntGroups is the maximum number of 7-bit groups in an encoded
// int32. A sixth group cannot carry valid data.
const maxVarIntGroups = 5

// ErrVarIntTooLong is returned when a varint exceeds 5 encoded groups.
var ErrVarIntTooLong = errors.New("varint too long")

// WriteVarInt encodes v as a variable-length integer and writes it to w.
func WriteVarInt(w io.Writer, v int32) error {
	u := uint32(v)
	buf := make([]byte, 0, maxVarIntGroups)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if u == 0 {
			break
		}
	}
	_, err := w.Write(buf)
	return err
}

// ReadVarInt decodes a variable-length integer from r.
// It fails with ErrVarIntTooLong if the encoding exceeds 5 groups.
func ReadVarInt(r io.Reader) (int32, error) {
	var result uint32
	buf := make([]byte, 1)
	for group := 0; ; group++ {
		if group == maxVarIntGroups {
			return 0, ErrVarIntTooLong
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, fmt.Errorf("reading varint group %d: %w", group, err)
		}
		result |= uint32(buf[0]&0x7F) << (7 * group)
		if buf[0]&0x80 == 0 {
			return int32(result), nil
		}
	}
}

// WriteString writes s as a varint length prefix followed by the raw
// UTF-8 bytes, with no terminator.
func WriteString(w io.Writer, s string) error {
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a varint length prefix and then that many bytes,
// returning them as a string.
func ReadString(r io.Reader) (string, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", fmt.Errorf("negative string length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading string body: %w", err)
	}
	return string(buf), nil
}
