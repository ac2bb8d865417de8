package scp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cryptographic primitives backing both protocols. Every function here is a
// deterministic, side-effect-free transform; the only failure mode is
// unusable key material. MAC verification results are reported by the
// callers as booleans/errors, never as cipher faults.

// --- AES (SCP03) ---

func aesCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("scp: CBC encrypt input not block aligned (%d bytes)", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("scp: CBC decrypt input not block aligned (%d bytes)", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesECBEncrypt(key, blockIn []byte) ([]byte, error) {
	if len(blockIn) != aes.BlockSize {
		return nil, fmt.Errorf("scp: ECB input must be one block")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, blockIn)
	return out, nil
}

// aesCMAC computes the full 16-byte AES-CMAC (NIST SP 800-38B) of msg.
func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(msg) + 15) / 16
	if n == 0 {
		n = 1
	}
	lastComplete := len(msg) != 0 && len(msg)%16 == 0

	last := make([]byte, 16)
	if lastComplete {
		copy(last, msg[(n-1)*16:])
		xorBlock(last, last, k1)
	} else {
		remain := len(msg) - (n-1)*16
		if remain > 0 {
			copy(last, msg[(n-1)*16:])
		}
		last[remain] = 0x80
		xorBlock(last, last, k2)
	}

	x := make([]byte, 16)
	y := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorBlock(y, x, msg[i*16:(i+1)*16])
		block.Encrypt(x, y)
	}
	xorBlock(y, x, last)
	block.Encrypt(x, y)
	return x, nil
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	l := make([]byte, 16)
	block.Encrypt(l, make([]byte, 16))

	k1 = make([]byte, 16)
	leftShift1(k1, l)
	if l[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = make([]byte, 16)
	leftShift1(k2, k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}
	return k1, k2
}

// kdf is the SCP03 key derivation function (NIST SP 800-108, counter mode,
// CMAC PRF): label is 11 zero bytes plus the derivation constant, followed
// by a zero separator, the output length in bits and a block counter, with
// the host/card challenge context appended.
func kdf(key []byte, constant byte, context []byte, outBits int) ([]byte, error) {
	outLen := outBits / 8
	blocks := (outLen + 15) / 16

	var out []byte
	for i := 1; i <= blocks; i++ {
		input := make([]byte, 0, 16+len(context))
		input = append(input, make([]byte, 11)...)
		input = append(input, constant, 0x00)
		input = binary.BigEndian.AppendUint16(input, uint16(outBits))
		input = append(input, byte(i))
		input = append(input, context...)

		mac, err := aesCMAC(key, input)
		if err != nil {
			return nil, err
		}
		out = append(out, mac...)
	}
	return out[:outLen], nil
}

// counterBlock builds the SCP03 encryption counter block. The high bit of
// the first byte distinguishes response ICVs from command ICVs.
func counterBlock(counter uint64, response bool) []byte {
	block := make([]byte, 16)
	binary.BigEndian.PutUint64(block[8:], counter)
	if response {
		block[0] = 0x80
	}
	return block
}

// --- 3DES (SCP02) ---

// des3Key expands 16-byte double-length keys to the 24-byte K1|K2|K1 form
// the cipher core expects.
func des3Key(key []byte) ([]byte, error) {
	switch len(key) {
	case 24:
		return key, nil
	case 16:
		out := make([]byte, 24)
		copy(out, key)
		copy(out[16:], key[:8])
		return out, nil
	default:
		return nil, fmt.Errorf("%w: 3DES key is %d bytes", ErrInvalidKeyMaterial, len(key))
	}
}

func des3CBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%des.BlockSize != 0 {
		return nil, fmt.Errorf("scp: 3DES CBC input not block aligned (%d bytes)", len(data))
	}
	k, err := des3Key(key)
	if err != nil {
		return nil, err
	}
	block, err := des.NewTripleDESCipher(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func des3CBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%des.BlockSize != 0 {
		return nil, fmt.Errorf("scp: 3DES CBC input not block aligned (%d bytes)", len(data))
	}
	k, err := des3Key(key)
	if err != nil {
		return nil, err
	}
	block, err := des.NewTripleDESCipher(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// retailMAC computes the ISO 9797-1 MAC algorithm 3 ("retail MAC") used for
// SCP02 C-MAC: single-DES CBC under the first key half, with a final 3DES
// transform of the last block. Data is padded with 0x80 and zeros.
func retailMAC(key, icv, data []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("%w: retail MAC key is %d bytes", ErrInvalidKeyMaterial, len(key))
	}
	k1, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	k2, err := des.NewCipher(key[8:16])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	padded := pad80(data, des.BlockSize)

	mac := make([]byte, des.BlockSize)
	copy(mac, icv)
	buf := make([]byte, des.BlockSize)
	for i := 0; i < len(padded); i += des.BlockSize {
		xorBlock(buf, mac, padded[i:i+des.BlockSize])
		k1.Encrypt(mac, buf)
	}

	// Final transform: D(K2) then E(K1).
	k2.Decrypt(mac, mac)
	k1.Encrypt(mac, mac)
	return mac, nil
}

// --- shared helpers ---

// pad80 appends the ISO 9797-1 method 2 padding (0x80 then zeros) up to the
// next multiple of blockSize.
func pad80(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// unpad80 strips ISO 9797-1 method 2 padding.
func unpad80(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("scp: bad padding")
	}
	return data[:idx], nil
}

func leftShift1(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = b<<1 | carry
		carry = b >> 7 & 1
	}
}

func xorBlock(dst, a, b []byte) {
	for i := 0; i < len(dst) && i < len(a) && i < len(b); i++ {
		dst[i] = a[i] ^ b[i]
	}
}
