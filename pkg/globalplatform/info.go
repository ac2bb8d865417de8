package globalplatform

import (
	"errors"
	"fmt"

	"github.com/veenone/ccm-tool/pkg/tlv"
)

// CARD DISCOVERY DATA:
// Three GET DATA objects describe a card before any authentication:
//
//	9F7F  CPLC (Card Production Life Cycle data, 42 bytes of fab/batch ids)
//	66    Card Recognition Data (GP version, SCP support)
//	E0    Key Information Template: one C0 entry per key slot with
//	      identifier, version number and (type, length) components
//
// Cards differ in which objects they expose; a missing object is skipped,
// not an error.

// Data object tags readable with GET DATA.
const (
	TagCPLC            uint16 = 0x9F7F
	TagCardRecognition uint16 = 0x0066
	TagKeyInformation  uint16 = 0x00E0
)

// KeyInfo describes one key slot from the key information template.
type KeyInfo struct {
	ID      byte
	Version byte
	Type    byte
	Length  int
}

func (k KeyInfo) String() string {
	return fmt.Sprintf("key id=%02X version=%02X type=%02X length=%d", k.ID, k.Version, k.Type, k.Length)
}

// CardInfo aggregates the pre-authentication discovery reads.
type CardInfo struct {
	CPLC            []byte
	CardRecognition []byte
	Keys            []KeyInfo
}

// GetCardInfo reads CPLC, card recognition data and the key information
// template. Objects the card does not expose are left empty.
func (m *Manager) GetCardInfo() (*CardInfo, error) {
	info := &CardInfo{}

	read := func(tag uint16) ([]byte, error) {
		data, err := m.GetData(tag)
		if errors.Is(err, ErrObjectNotFound) {
			return nil, nil
		}
		return data, err
	}

	var err error
	if info.CPLC, err = read(TagCPLC); err != nil {
		return nil, err
	}
	if info.CardRecognition, err = read(TagCardRecognition); err != nil {
		return nil, err
	}

	keyTemplate, err := read(TagKeyInformation)
	if err != nil {
		return nil, err
	}
	if len(keyTemplate) > 0 {
		if info.Keys, err = parseKeyInformation(keyTemplate); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// parseKeyInformation decodes the E0 template's C0 entries. Each entry is
// key identifier, key version number, then one or more (type, length)
// pairs; only the first component is reported.
func parseKeyInformation(data []byte) ([]KeyInfo, error) {
	// GET DATA wraps the template in its own tag when read via 00E0.
	if inner, err := tlv.Find(data, 0xE0); err == nil {
		data = inner
	}

	var keys []KeyInfo
	for rec, err := range tlv.Records(data) {
		if err != nil {
			return nil, err
		}
		if rec.Tag != 0xC0 || len(rec.Value) < 4 {
			continue
		}
		keys = append(keys, KeyInfo{
			ID:      rec.Value[0],
			Version: rec.Value[1],
			Type:    rec.Value[2],
			Length:  int(rec.Value[3]),
		})
	}
	return keys, nil
}
