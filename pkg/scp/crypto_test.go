package scp

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/veenone/ccm-tool/pkg/tlv"
)

// AES-CMAC test vectors from RFC 4493 (key 2B7E...4F3C).
func TestAESCMAC_RFC4493(t *testing.T) {
	key := tlv.Hex("2B7E151628AED2A6ABF7158809CF4F3C")
	msg := tlv.Hex(
		"6BC1BEE22E409F96E93D7E117393172A",
		"AE2D8A571E03AC9C9EB76FAC45AF8E51",
		"30C81C46A35CE411E5FBC1191A0A52EF",
		"F69F2445DF4F9B17AD2B417BE66C3710",
	)

	tests := []struct {
		name     string
		msg      []byte
		expected string
	}{
		{"empty message", nil, "BB1D6929E95937287FA37D129B756746"},
		{"one block", msg[:16], "070A16B46B4D4144F79BDD9DD04A287C"},
		{"40 bytes", msg[:40], "DFA66747DE9AE63030CA32611497C827"},
		{"four blocks", msg, "51F0BEBF7E3B9D92FC49741779363CFE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := aesCMAC(key, tt.msg)
			if err != nil {
				t.Fatalf("aesCMAC failed: %v", err)
			}
			if !bytes.Equal(got, tlv.Hex(tt.expected)) {
				t.Errorf("CMAC = %X, want %s", got, tt.expected)
			}
		})
	}
}

func TestAESCMAC_BadKey(t *testing.T) {
	_, err := aesCMAC([]byte{0x01, 0x02}, nil)
	if !errors.Is(err, ErrInvalidKeyMaterial) {
		t.Fatalf("expected ErrInvalidKeyMaterial, got %v", err)
	}
}

func TestKDF(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	context := tlv.Hex("00112233445566778899AABBCCDDEEFF")

	t.Run("output lengths", func(t *testing.T) {
		k128, err := kdf(key, scp03DeriveSEnc, context, 128)
		if err != nil {
			t.Fatalf("kdf failed: %v", err)
		}
		if len(k128) != 16 {
			t.Errorf("128-bit output is %d bytes", len(k128))
		}

		c64, err := kdf(key, scp03DeriveCardCryptogram, context, 64)
		if err != nil {
			t.Fatalf("kdf failed: %v", err)
		}
		if len(c64) != 8 {
			t.Errorf("64-bit output is %d bytes", len(c64))
		}

		k256, err := kdf(key, scp03DeriveSEnc, context, 256)
		if err != nil {
			t.Fatalf("kdf failed: %v", err)
		}
		if len(k256) != 32 {
			t.Errorf("256-bit output is %d bytes", len(k256))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := kdf(key, scp03DeriveSMac, context, 128)
		b, _ := kdf(key, scp03DeriveSMac, context, 128)
		if !bytes.Equal(a, b) {
			t.Error("same inputs must derive the same key")
		}
	})

	t.Run("constants separate keys", func(t *testing.T) {
		enc, _ := kdf(key, scp03DeriveSEnc, context, 128)
		mac, _ := kdf(key, scp03DeriveSMac, context, 128)
		rmac, _ := kdf(key, scp03DeriveSRmac, context, 128)
		if bytes.Equal(enc, mac) || bytes.Equal(mac, rmac) || bytes.Equal(enc, rmac) {
			t.Error("distinct derivation constants must yield distinct keys")
		}
	})
}

func TestPad80RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		block int
	}{
		{"empty", nil, 16},
		{"partial block", []byte{0x01, 0x02, 0x03}, 16},
		{"full block", make([]byte, 16), 16},
		{"des block", []byte{0xAA}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			padded := pad80(tt.data, tt.block)
			if len(padded)%tt.block != 0 {
				t.Fatalf("padded length %d not a multiple of %d", len(padded), tt.block)
			}
			if len(padded) == len(tt.data) {
				t.Fatal("padding must always add bytes")
			}
			got, err := unpad80(padded)
			if err != nil {
				t.Fatalf("unpad80 failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) && len(tt.data) > 0 {
				t.Errorf("round trip = %X, want %X", got, tt.data)
			}
		})
	}
}

func TestUnpad80_BadPadding(t *testing.T) {
	if _, err := unpad80([]byte{0x01, 0x02, 0x03, 0x04}); err == nil {
		t.Error("missing 0x80 marker should fail")
	}
	if _, err := unpad80(make([]byte, 8)); err == nil {
		t.Error("all-zero block should fail")
	}
}

func TestDes3Key(t *testing.T) {
	k16 := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	k24, err := des3Key(k16)
	if err != nil {
		t.Fatalf("des3Key failed: %v", err)
	}
	if len(k24) != 24 || !bytes.Equal(k24[16:], k16[:8]) {
		t.Errorf("expected K1|K2|K1 expansion, got %X", k24)
	}

	if _, err := des3Key(make([]byte, 10)); !errors.Is(err, ErrInvalidKeyMaterial) {
		t.Errorf("expected ErrInvalidKeyMaterial for 10-byte key, got %v", err)
	}
}

func TestRetailMAC(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	icv := make([]byte, 8)
	data := []byte("GET STATUS")

	mac1, err := retailMAC(key, icv, data)
	if err != nil {
		t.Fatalf("retailMAC failed: %v", err)
	}
	if len(mac1) != 8 {
		t.Fatalf("MAC is %d bytes, want 8", len(mac1))
	}

	mac2, _ := retailMAC(key, icv, data)
	if !bytes.Equal(mac1, mac2) {
		t.Error("retail MAC must be deterministic")
	}

	// Chaining: a different ICV must change the MAC.
	mac3, _ := retailMAC(key, mac1, data)
	if bytes.Equal(mac1, mac3) {
		t.Error("ICV must influence the MAC")
	}

	if _, err := retailMAC(key[:8], icv, data); !errors.Is(err, ErrInvalidKeyMaterial) {
		t.Errorf("expected ErrInvalidKeyMaterial for short key, got %v", err)
	}
}

func TestCounterBlock(t *testing.T) {
	cmd := counterBlock(1, false)
	want := append(make([]byte, 15), 0x01)
	if !bytes.Equal(cmd, want) {
		t.Errorf("command counter block = %X", cmd)
	}

	resp := counterBlock(1, true)
	if resp[0] != 0x80 {
		t.Errorf("response counter block must set the high bit, got %X", resp)
	}
	if !bytes.Equal(resp[1:], cmd[1:]) {
		t.Error("response block must otherwise match the command block")
	}
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	iv := make([]byte, 16)
	plain := pad80([]byte("INSTALL for install"), 16)

	enc, err := aesCBCEncrypt(key, iv, plain)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Equal(enc, plain) {
		t.Fatal("ciphertext equals plaintext")
	}

	dec, err := aesCBCDecrypt(key, iv, enc)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Errorf("round trip = %X, want %X", dec, plain)
	}
}

func TestDes3CBCRoundTrip(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	iv := make([]byte, 8)
	plain := pad80([]byte("SET STATUS"), 8)

	enc, err := des3CBCEncrypt(key, iv, plain)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	dec, err := des3CBCDecrypt(key, iv, enc)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Errorf("round trip = %X, want %X", dec, plain)
	}
}

func TestHexFixtureHelper(t *testing.T) {
	got := tlv.Hex("40 41", "4243")
	if hex.EncodeToString(got) != "40414243" {
		t.Errorf("Hex helper = %x", got)
	}
}
