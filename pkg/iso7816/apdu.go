package iso7816

import (
	"bytes"
	"errors"
	"fmt"
)

// APDU (Application Protocol Data Unit) encoding according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// Mandatory 4-byte header (CLA, INS, P1, P2) followed by an optional body:
//   - Lc: number of bytes in the data field.
//   - Data: the command payload.
//   - Le: maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: Header only.
// - Case 2: Header + Le.
// - Case 3: Header + Lc + Data.
// - Case 4: Header + Lc + Data + Le.
//
// LENGTH MODES:
//   - Short: Lc/Le on 1 byte (max 255/256, Le=0x00 encodes 256).
//   - Extended: Lc/Le on a 2-byte big-endian field behind a 0x00 marker
//     (max 65535/65536). Only legal when the card advertises support.
//
// RESPONSE APDU (R-APDU):
// Optional data field followed by the mandatory 2-byte status word (SW1 SW2).

// APDU limits according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length encodable in short mode.
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length in short mode
	// (0x00 encodes 256).
	MaxShortLe = 256

	// MaxExtendedLc is the 16-bit limit for Lc in extended mode.
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne in extended mode (0x0000 encodes 65536).
	MaxExtendedLe = 65536
)

// Encoding and parsing failures. Both are local protocol errors and are
// never worth retrying against the card.
var (
	// ErrUnsupportedLength is returned when a command needs extended length
	// encoding but the card has not advertised support for it.
	ErrUnsupportedLength = errors.New("iso7816: data field requires extended length APDU")

	// ErrMalformedResponse is returned when raw response bytes cannot form a
	// valid R-APDU (missing status word, inconsistent declared lengths).
	ErrMalformedResponse = errors.New("iso7816: malformed response APDU")
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla, ins, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Cla:  cla,
		Ins:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
		Ne:   ne,
	}
}

// Encode serializes the command, selecting short or extended length fields
// from the sizes of Data and Ne. When the command does not fit the short form
// and extended is false, it fails with ErrUnsupportedLength.
func (c *CommandAPDU) Encode(extended bool) ([]byte, error) {
	nc := len(c.Data)
	ne := c.Ne

	if nc > MaxExtendedLc || ne > MaxExtendedLe {
		return nil, fmt.Errorf("%w: Lc=%d Le=%d exceed extended limits", ErrUnsupportedLength, nc, ne)
	}

	isExtended := nc > MaxShortLc || ne > MaxShortLe
	if isExtended && !extended {
		return nil, fmt.Errorf("%w: Lc=%d Le=%d", ErrUnsupportedLength, nc, ne)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(c.Cla)
	buf.WriteByte(c.Ins)
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	// Lc field and data field
	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			// 0x00 marker + 2-byte Lc
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	// Le field
	if ne > 0 {
		if !isExtended {
			if ne == MaxShortLe {
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(ne))
			}
		} else {
			// Case 2 extended carries its own 0x00 marker when Lc is absent.
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			if ne == MaxExtendedLe {
				buf.WriteByte(0x00)
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(ne >> 8))
				buf.WriteByte(byte(ne))
			}
		}
	}

	return buf.Bytes(), nil
}

// Bytes encodes the command with extended length permitted. Callers driving a
// card of unknown capability should use Encode with the negotiated limit.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	return c.Encode(true)
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("CLA: %02X INS: %02X | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Cla, c.Ins, c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU parses raw bytes into a CommandAPDU, validating that the
// declared Lc agrees with the actual body length. Only the short form is
// decoded; it exists for verifying frames a wrapper produced, not for
// driving a terminal.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: command header incomplete (%d bytes)", ErrMalformedResponse, len(raw))
	}

	cmd := &CommandAPDU{Cla: raw[0], Ins: raw[1], P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1
	case len(body) == 1:
		// Case 2
		cmd.Ne = int(body[0])
		if cmd.Ne == 0 {
			cmd.Ne = MaxShortLe
		}
	default:
		// Case 3 or 4
		lc := int(body[0])
		rest := body[1:]
		switch {
		case len(rest) == lc:
			cmd.Data = rest
		case len(rest) == lc+1:
			cmd.Data = rest[:lc]
			cmd.Ne = int(rest[lc])
			if cmd.Ne == 0 {
				cmd.Ne = MaxShortLe
			}
		default:
			return nil, fmt.Errorf("%w: Lc=%d disagrees with body length %d", ErrMalformedResponse, lc, len(rest))
		}
	}

	return cmd, nil
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a
// ResponseAPDU. The input must contain at least the 2-byte status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %d bytes, status word missing", ErrMalformedResponse, len(raw))
	}

	split := len(raw) - 2
	return &ResponseAPDU{
		Data:   raw[:split],
		Status: NewStatusWord(raw[split], raw[split+1]),
	}, nil
}

// Bytes re-serializes the response (data followed by SW1 SW2).
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	out = append(out, r.Status.SW1(), r.Status.SW2())
	return out
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
