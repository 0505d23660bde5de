package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 127, 128, 300, 2_097_151, math.MaxInt32 / 2, math.MaxInt32}

	for _, v := range values {
		t.Run(fmt.Sprintf("%d", v), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteVarInt(&buf, v); err != nil {
				t.Fatal(err)
			}
			got, err := ReadVarInt(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if got != v {
				t.Errorf("round trip = %d, want %d", got, v)
			}
		})
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	tests := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, tt.value); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf.Bytes(), tt.bytes) {
			t.Errorf("encode(%d) = %x, want %x", tt.value, buf.Bytes(), tt.bytes)
		}
	}
}

func TestReadVarInt_TooLong(t *testing.T) {
	// Six groups with the continuation bit set on the first five.
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, err := ReadVarInt(bytes.NewReader(data))
	if !errors.Is(err, ErrVarIntTooLong) {
		t.Errorf("err = %v, want ErrVarIntTooLong", err)
	}
}

func TestReadVarInt_Truncated(t *testing.T) {
	data := []byte{0x80}
	if _, err := ReadVarInt(bytes.NewReader(data)); err == nil {
		t.Error("expected error for truncated varint")
	}
}

func TestStringRoundTrip(t *testing.T) {
	values := []string{"", "a", "play.example.com", "zażółć gęślą jaźń"}

	for _, s := range values {
		var buf bytes.Buffer
		if err := WriteString(&buf, s); err != nil {
			t.Fatal(err)
		}
		got, err := ReadString(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}
}

func TestReadString_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteVarInt(&buf, 10); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("abc")
	if _, err := ReadString(&buf); err == nil {
		t.Error("expected error for truncated string body")
	}
}
