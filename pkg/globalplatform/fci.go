package globalplatform

import (
	"fmt"

	"github.com/veenone/ccm-tool/pkg/tlv"
)

// FCI (File Control Information, GP Card Specification §11.9.3):
// The SELECT response for a security domain:
//
//	6F
//	  84    selected AID
//	  A5    proprietary data
//	    73    security domain management data
//	    9F65  maximum command data field length
//	    9F6E  application production lifecycle data
//
// The 9F65 limit decides whether extended length APDUs may be used against
// the card.

// FCI is the parsed SELECT response.
type FCI struct {
	AID         []byte         `tlv:"84"`
	Proprietary ProprietaryFCI `tlv:"A5"`
}

// ProprietaryFCI is the A5 template of a security domain FCI.
type ProprietaryFCI struct {
	SDManagementData    []byte    `tlv:"73"`
	MaxCommandLength    ByteLimit `tlv:"9F65"`
	ProductionLifecycle []byte    `tlv:"9F6E"`
}

// ByteLimit is a big-endian length advertised inside an FCI.
type ByteLimit int

// UnmarshalTLV decodes the big-endian integer payload.
func (b *ByteLimit) UnmarshalTLV(data []byte) error {
	if len(data) > 4 {
		return fmt.Errorf("globalplatform: length field is %d bytes", len(data))
	}
	var v int
	for _, by := range data {
		v = v<<8 | int(by)
	}
	*b = ByteLimit(v)
	return nil
}

// SupportsExtendedLength reports whether the advertised command length
// limit exceeds the short APDU form.
func (f *FCI) SupportsExtendedLength() bool {
	return f.Proprietary.MaxCommandLength > 255
}

// ParseFCI decodes a SELECT response data field.
func ParseFCI(data []byte) (*FCI, error) {
	var wrapper struct {
		FCI FCI `tlv:"6F"`
	}
	if err := tlv.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("globalplatform: FCI parse: %w", err)
	}
	return &wrapper.FCI, nil
}
