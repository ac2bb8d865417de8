package globalplatform

import (
	"strings"

	"github.com/veenone/ccm-tool/pkg/bits"
)

// PRIVILEGES (GP Card Specification §11.1.2):
// A privilege field is one or three bytes. The first byte carries the
// classic GP 2.1.1 privileges; bytes two and three extend them (trusted
// path, authorized/delegated management details, global services). Cards
// report one byte in the deprecated GET STATUS format and up to three in
// the TLV format (tag C5).

// Privilege identifies one bit of the first privilege byte, numbered the
// ISO way (bit 8 = most significant).
type Privilege uint

const (
	PrivSecurityDomain      Privilege = 8
	PrivDAPVerification     Privilege = 7
	PrivDelegatedManagement Privilege = 6
	PrivCardLock            Privilege = 5
	PrivCardTerminate       Privilege = 4
	PrivCardReset           Privilege = 3
	PrivCVMManagement       Privilege = 2
	PrivMandatedDAP         Privilege = 1
)

var privilegeNames = map[Privilege]string{
	PrivSecurityDomain:      "SecurityDomain",
	PrivDAPVerification:     "DAPVerification",
	PrivDelegatedManagement: "DelegatedManagement",
	PrivCardLock:            "CardLock",
	PrivCardTerminate:       "CardTerminate",
	PrivCardReset:           "CardReset",
	PrivCVMManagement:       "CVMManagement",
	PrivMandatedDAP:         "MandatedDAP",
}

// DefaultPrivileges returns the privilege template for creating a security
// domain of the given kind.
func DefaultPrivileges(kind Kind) Privileges {
	switch kind {
	case KindAMSD:
		// Security domain + authorized management.
		return Privileges{bits.Bit(uint(PrivSecurityDomain)), 0x40, 0x00}
	case KindDMSD:
		return Privileges{bits.Bit(uint(PrivSecurityDomain)) | bits.Bit(uint(PrivDelegatedManagement))}
	default:
		return Privileges{bits.Bit(uint(PrivSecurityDomain))}
	}
}

// Privileges is a raw privilege field as reported by the card.
type Privileges []byte

// Has checks a first-byte privilege bit.
func (p Privileges) Has(priv Privilege) bool {
	return len(p) > 0 && bits.IsSet(p[0], uint(priv))
}

// AuthorizedManagement checks the second-byte Authorized Management bit,
// present only in three-byte fields.
func (p Privileges) AuthorizedManagement() bool {
	return len(p) > 1 && bits.IsSet(p[1], 7)
}

func (p Privileges) String() string {
	var names []string
	for priv := PrivSecurityDomain; priv >= PrivMandatedDAP; priv-- {
		if p.Has(priv) {
			names = append(names, privilegeNames[priv])
		}
	}
	if p.AuthorizedManagement() {
		names = append(names, "AuthorizedManagement")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
