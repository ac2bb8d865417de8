// Package tlv parses BER-TLV (Tag-Length-Value) card data: a lazy low-level
// walker for GlobalPlatform templates, and struct-tag mapping of decoded
// objects into Go structures on top of github.com/moov-io/bertlv.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
// Fields select their source object with a `tlv:"<hex tag>"` struct tag; a
// field tagged `tlv:",unknown"` of type []bertlv.TLV collects leftovers.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps pre-decoded bertlv.TLV objects onto a target
// struct. Repeated tags append when the target field is a slice.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tagConfig := t.Field(i).Tag.Get("tlv")

		if tagConfig == "" || tagConfig == ",unknown" {
			continue
		}
		wantTag := strings.ToUpper(strings.Split(tagConfig, ",")[0])

		for idx, packet := range packets {
			if strings.ToUpper(packet.Tag) != wantTag {
				continue
			}
			if err := assignField(packet, field); err != nil {
				return err
			}
			consumed[idx] = true
		}
	}

	return collectUnknown(v, t, packets, consumed)
}

// assignField dispatches one TLV onto a struct field.
func assignField(packet bertlv.TLV, field reflect.Value) error {
	// Slice of structs (not []byte): grow and decode into the new element.
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() != reflect.Uint8 {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeValue(packet, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeValue(packet, field)
}

func decodeValue(packet bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(packetData(packet))
		}
	}

	switch {
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8:
		field.SetBytes(packetData(packet))
		return nil

	case field.Kind() == reflect.String:
		field.SetString(hex.EncodeToString(packet.Value))
		return nil

	case field.Kind() == reflect.Struct:
		return unmarshalNested(packet, field.Addr())

	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return unmarshalNested(packet, field)
	}

	return nil
}

func unmarshalNested(packet bertlv.TLV, target reflect.Value) error {
	if len(packet.TLVs) > 0 {
		return UnmarshalFromPackets(packet.TLVs, target.Interface())
	}
	return Unmarshal(packet.Value, target.Interface())
}

func collectUnknown(v reflect.Value, t reflect.Type, packets []bertlv.TLV, consumed map[int]bool) error {
	var unknownField reflect.Value
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Tag.Get("tlv") == ",unknown" {
			unknownField = v.Field(i)
			break
		}
	}
	if !unknownField.IsValid() || !unknownField.CanSet() {
		return nil
	}

	var leftovers []bertlv.TLV
	for idx, packet := range packets {
		if !consumed[idx] {
			leftovers = append(leftovers, packet)
		}
	}
	if len(leftovers) > 0 {
		unknownField.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

// packetData returns the raw payload of a packet, re-encoding nested
// objects so constructed templates round-trip.
func packetData(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

// GetValue scans raw data for a specific tag and returns its payload.
func GetValue(data []byte, tag uint) ([]byte, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, err
	}

	want := strings.ToUpper(fmt.Sprintf("%X", tag))
	for _, p := range packets {
		if strings.ToUpper(p.Tag) == want {
			if len(p.TLVs) > 0 {
				return bertlv.Encode(p.TLVs)
			}
			return p.Value, nil
		}
	}
	return nil, fmt.Errorf("tag %s not found", want)
}
