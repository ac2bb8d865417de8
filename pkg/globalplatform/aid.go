// Package globalplatform implements the GlobalPlatform card content
// management command set: SELECT, GET STATUS, INSTALL, SET STATUS, STORE DATA
// and GET DATA, with lifecycle and extradition rules checked locally before a
// command is sent. Commands route through an scp.Session when a secure
// channel is established, and in clear for pre-authentication discovery.
package globalplatform

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AID is an application identifier: the 5 to 16 byte name under which the
// card registers an application, load file or security domain.
type AID []byte

// ISD is the default Issuer Security Domain AID (the GP "card manager").
var ISD = AID{0xA0, 0x00, 0x00, 0x01, 0x51, 0x00, 0x00, 0x00}

// ParseAID decodes a hexadecimal AID string, accepting spaces between bytes.
func ParseAID(s string) (AID, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAID, s, err)
	}
	aid := AID(raw)
	if err := aid.Validate(); err != nil {
		return nil, err
	}
	return aid, nil
}

// Validate checks the AID length bounds defined by ISO 7816-5.
func (a AID) Validate() error {
	if len(a) < 5 || len(a) > 16 {
		return fmt.Errorf("%w: %d bytes, want 5 to 16", ErrInvalidAID, len(a))
	}
	return nil
}

// Equal reports whether two AIDs name the same object.
func (a AID) Equal(other AID) bool {
	return bytes.Equal(a, other)
}

func (a AID) String() string {
	return strings.ToUpper(hex.EncodeToString(a))
}
