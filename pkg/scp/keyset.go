// Package scp implements the GlobalPlatform secure channel protocols SCP02
// (3DES) and SCP03 (AES): mutual authentication, session key derivation, and
// authenticated/encrypted APDU wrapping.
package scp

import "fmt"

// Protocol selects the secure channel variant. The variant is fixed when a
// session is created and cannot change for the session's lifetime.
type Protocol byte

const (
	// SCP02 is the 3DES-based protocol (GP Card Specification, Appendix E).
	SCP02 Protocol = 0x02
	// SCP03 is the AES-based protocol (GP Amendment D).
	SCP03 Protocol = 0x03
)

func (p Protocol) String() string {
	switch p {
	case SCP02:
		return "SCP02"
	case SCP03:
		return "SCP03"
	default:
		return fmt.Sprintf("SCP%02X", byte(p))
	}
}

// SecurityLevel is the protection applied to wrapped commands. The level is
// fixed at authentication time; changing it requires a fresh session.
type SecurityLevel int

const (
	// LevelMAC authenticates commands (C-MAC).
	LevelMAC SecurityLevel = 1
	// LevelMACEnc additionally encrypts the command data field.
	LevelMACEnc SecurityLevel = 2
	// LevelFull additionally authenticates responses (R-MAC).
	LevelFull SecurityLevel = 3
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelMAC:
		return "C-MAC"
	case LevelMACEnc:
		return "C-MAC+C-ENC"
	case LevelFull:
		return "C-MAC+C-ENC+R-MAC"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
}

// p1 returns the EXTERNAL AUTHENTICATE security level parameter.
func (l SecurityLevel) p1() byte {
	switch l {
	case LevelMAC:
		return 0x01
	case LevelMACEnc:
		return 0x03
	default:
		// C-MAC + C-DECRYPTION + R-MAC
		return 0x13
	}
}

// Keyset is a static card key set as supplied by the keyset source
// collaborator. It is treated as immutable once handed to a session.
type Keyset struct {
	Protocol Protocol

	// ENC, MAC and DEK are the static secure channel base keys.
	ENC []byte
	MAC []byte
	DEK []byte

	// Version is the key version number (P1 of INITIALIZE UPDATE).
	Version byte
}

// Validate checks the key material against the protocol's cipher.
func (k Keyset) Validate() error {
	switch k.Protocol {
	case SCP02:
		for name, key := range map[string][]byte{"ENC": k.ENC, "MAC": k.MAC, "DEK": k.DEK} {
			if len(key) != 16 && len(key) != 24 {
				return fmt.Errorf("%w: SCP02 %s key is %d bytes, want 16 or 24", ErrInvalidKeyMaterial, name, len(key))
			}
		}
	case SCP03:
		for name, key := range map[string][]byte{"ENC": k.ENC, "MAC": k.MAC, "DEK": k.DEK} {
			switch len(key) {
			case 16, 24, 32:
			default:
				return fmt.Errorf("%w: SCP03 %s key is %d bytes, want 16, 24 or 32", ErrInvalidKeyMaterial, name, len(key))
			}
		}
		if len(k.ENC) != len(k.MAC) {
			return fmt.Errorf("%w: SCP03 ENC and MAC keys must share a length", ErrInvalidKeyMaterial)
		}
	default:
		return fmt.Errorf("%w: unsupported protocol %s", ErrInvalidKeyMaterial, k.Protocol)
	}
	return nil
}

// challengeLen is the host challenge size for the keyset's protocol. SCP02
// always uses 8 bytes; SCP03 scales with the key length (8 for AES-128,
// 16 for AES-256).
func (k Keyset) challengeLen() int {
	if k.Protocol == SCP03 && len(k.ENC) == 32 {
		return 16
	}
	return 8
}
