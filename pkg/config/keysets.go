// Package config loads keyset definitions from YAML files into the value
// objects the secure channel engine consumes. The engine itself never sees
// the storage format: it receives finished scp.Keyset values.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veenone/ccm-tool/pkg/scp"
)

// Keyset is a named keyset definition: the static keys plus the security
// level to request when establishing a channel with them.
type Keyset struct {
	scp.Keyset
	Level scp.SecurityLevel
}

// keysetFile mirrors the keysets.yaml layout:
//
//	keysets:
//	  default:
//	    protocol: SCP03
//	    enc_key: 404142434445464748494A4B4C4D4E4F
//	    mac_key: 404142434445464748494A4B4C4D4E4F
//	    dek_key: 404142434445464748494A4B4C4D4E4F
//	    key_version: 0x30
//	    security_level: 3
type keysetFile struct {
	Keysets map[string]keysetEntry `yaml:"keysets"`
}

type keysetEntry struct {
	Protocol      string `yaml:"protocol"`
	ENC           string `yaml:"enc_key"`
	MAC           string `yaml:"mac_key"`
	DEK           string `yaml:"dek_key"`
	KeyVersion    int    `yaml:"key_version"`
	SecurityLevel int    `yaml:"security_level"`
}

// LoadKeysets reads and validates a keysets YAML file.
func LoadKeysets(path string) (map[string]Keyset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return ParseKeysets(raw)
}

// ParseKeysets decodes keyset definitions from YAML bytes. Every keyset is
// validated against its protocol before being returned; a single bad entry
// fails the whole load, so a misconfigured key cannot be used by accident.
func ParseKeysets(raw []byte) (map[string]Keyset, error) {
	var file keysetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parsing keysets: %w", err)
	}
	if len(file.Keysets) == 0 {
		return nil, fmt.Errorf("config: no keysets defined")
	}

	out := make(map[string]Keyset, len(file.Keysets))
	for name, entry := range file.Keysets {
		ks, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("config: keyset %q: %w", name, err)
		}
		out[name] = ks
	}
	return out, nil
}

func (e keysetEntry) build() (Keyset, error) {
	var protocol scp.Protocol
	switch strings.ToUpper(e.Protocol) {
	case "SCP02":
		protocol = scp.SCP02
	case "SCP03":
		protocol = scp.SCP03
	default:
		return Keyset{}, fmt.Errorf("unsupported protocol %q", e.Protocol)
	}

	enc, err := decodeKey("enc_key", e.ENC)
	if err != nil {
		return Keyset{}, err
	}
	mac, err := decodeKey("mac_key", e.MAC)
	if err != nil {
		return Keyset{}, err
	}
	dek, err := decodeKey("dek_key", e.DEK)
	if err != nil {
		return Keyset{}, err
	}

	if e.KeyVersion < 0 || e.KeyVersion > 0x7F {
		return Keyset{}, fmt.Errorf("key_version %d out of range", e.KeyVersion)
	}

	level := scp.SecurityLevel(e.SecurityLevel)
	if e.SecurityLevel == 0 {
		level = scp.LevelMAC
	}
	if level < scp.LevelMAC || level > scp.LevelFull {
		return Keyset{}, fmt.Errorf("security_level %d out of range", e.SecurityLevel)
	}

	ks := Keyset{
		Keyset: scp.Keyset{
			Protocol: protocol,
			ENC:      enc,
			MAC:      mac,
			DEK:      dek,
			Version:  byte(e.KeyVersion),
		},
		Level: level,
	}
	if err := ks.Validate(); err != nil {
		return Keyset{}, err
	}
	return ks, nil
}

func decodeKey(field, value string) ([]byte, error) {
	key, err := hex.DecodeString(strings.ReplaceAll(value, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", field, err)
	}
	return key, nil
}
