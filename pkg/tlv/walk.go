package tlv

import (
	"errors"
	"fmt"
	"iter"
)

// BER-TLV walking according to ISO 8825-1 as profiled by GlobalPlatform.
//
// TAG field: one byte, extended to further bytes when the low five bits of
// the first byte are all set (0x1F). Continuation bytes carry the high bit.
//
// LENGTH field: short form (one byte, 0x00-0x7F) or long form (0x81 + one
// byte, 0x82 + two bytes). The indefinite form (0x80) is not used by card
// data objects and is rejected.

// ErrTruncated is returned when a declared tag or length field runs past
// the end of the buffer. Nothing parsed after the defect is returned.
var ErrTruncated = errors.New("tlv: structure truncated")

// Record is one parsed tag-length-value triple. Tag keeps the raw encoding
// (up to three bytes) packed into a uint, matching how GlobalPlatform lists
// tags ('4F', '9F70', 'E3').
type Record struct {
	Tag         uint
	Value       []byte
	Constructed bool
}

// Records walks the buffer lazily, yielding records in encounter order.
// The sequence is finite and restartable: ranging twice over the same
// buffer yields identical records. A structural defect is yielded once as
// a non-nil error and terminates the walk.
func Records(data []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		offset := 0
		for offset < len(data) {
			rec, next, err := readRecord(data, offset)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
			offset = next
		}
	}
}

// Parse walks the whole buffer eagerly.
func Parse(data []byte) ([]Record, error) {
	var out []Record
	for rec, err := range Records(data) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Find returns the value of the first record carrying the given tag at the
// top level of the buffer.
func Find(data []byte, tag uint) ([]byte, error) {
	for rec, err := range Records(data) {
		if err != nil {
			return nil, err
		}
		if rec.Tag == tag {
			return rec.Value, nil
		}
	}
	return nil, fmt.Errorf("tlv: tag %X not found", tag)
}

// readRecord parses one TLV starting at offset and returns the record and
// the offset of the next one.
func readRecord(data []byte, offset int) (Record, int, error) {
	if offset >= len(data) {
		return Record{}, 0, fmt.Errorf("%w: no tag byte at offset %d", ErrTruncated, offset)
	}

	first := data[offset]
	tag := uint(first)
	constructed := first&0x20 != 0
	offset++

	// Multi-byte tag: low five bits of the first byte all set.
	if first&0x1F == 0x1F {
		for {
			if offset >= len(data) {
				return Record{}, 0, fmt.Errorf("%w: tag continuation missing", ErrTruncated)
			}
			b := data[offset]
			tag = tag<<8 | uint(b)
			offset++
			if b&0x80 == 0 {
				break
			}
			if tag > 0xFFFFFF {
				return Record{}, 0, fmt.Errorf("tlv: tag longer than 3 bytes at offset %d", offset)
			}
		}
	}

	if offset >= len(data) {
		return Record{}, 0, fmt.Errorf("%w: length byte missing for tag %X", ErrTruncated, tag)
	}

	var length int
	switch l := data[offset]; {
	case l < 0x80:
		length = int(l)
		offset++
	case l == 0x81:
		if offset+1 >= len(data) {
			return Record{}, 0, fmt.Errorf("%w: long-form length missing for tag %X", ErrTruncated, tag)
		}
		length = int(data[offset+1])
		offset += 2
	case l == 0x82:
		if offset+2 >= len(data) {
			return Record{}, 0, fmt.Errorf("%w: long-form length missing for tag %X", ErrTruncated, tag)
		}
		length = int(data[offset+1])<<8 | int(data[offset+2])
		offset += 3
	default:
		return Record{}, 0, fmt.Errorf("tlv: unsupported length form %02X for tag %X", l, tag)
	}

	if offset+length > len(data) {
		return Record{}, 0, fmt.Errorf("%w: tag %X declares %d bytes, %d remain",
			ErrTruncated, tag, length, len(data)-offset)
	}

	return Record{
		Tag:         tag,
		Value:       data[offset : offset+length],
		Constructed: constructed,
	}, offset + length, nil
}
