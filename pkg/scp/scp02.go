package scp

import (
	"fmt"

	"github.com/veenone/ccm-tool/pkg/iso7816"
)

// SCP02 (GP Card Specification v2.3, Appendix E). Session keys come from
// 3DES-CBC over a per-key derivation constant and the card's sequence
// counter; the C-MAC is the ISO 9797-1 retail MAC with the previous MAC as
// ICV, chaining every command of the session together.

// SCP02 session key derivation constants.
const (
	scp02DeriveEnc  uint16 = 0x0182
	scp02DeriveCMAC uint16 = 0x0101
	scp02DeriveRMAC uint16 = 0x0102
	scp02DeriveDEK  uint16 = 0x0181
)

// scp02Authenticate parses the INITIALIZE UPDATE response, derives the
// session keys and verifies the card cryptogram. It returns the
// EXTERNAL AUTHENTICATE command protected with the first C-MAC of the
// session.
func (s *Session) scp02Authenticate(resp []byte) (*iso7816.CommandAPDU, error) {
	// Layout: key diversification data (10), key version (1), protocol id
	// (1), sequence counter (2), card challenge (6), card cryptogram (8).
	if len(resp) < 28 {
		return nil, fmt.Errorf("%w: INITIALIZE UPDATE response is %d bytes, want 28", ErrMalformedCard, len(resp))
	}
	if resp[11] != byte(SCP02) {
		return nil, fmt.Errorf("%w: card negotiated SCP%02X, keyset is SCP02", ErrMalformedCard, resp[11])
	}

	s.seqCounter = resp[12:14]
	s.cardChallenge = resp[14:20]
	cardCryptogram := resp[20:28]

	var err error
	if s.keys.enc, err = scp02SessionKey(s.keyset.ENC, scp02DeriveEnc, s.seqCounter); err != nil {
		return nil, err
	}
	if s.keys.mac, err = scp02SessionKey(s.keyset.MAC, scp02DeriveCMAC, s.seqCounter); err != nil {
		return nil, err
	}
	if s.keys.rmac, err = scp02SessionKey(s.keyset.MAC, scp02DeriveRMAC, s.seqCounter); err != nil {
		return nil, err
	}
	if s.keys.dek, err = scp02SessionKey(s.keyset.DEK, scp02DeriveDEK, s.seqCounter); err != nil {
		return nil, err
	}

	expected, err := scp02Cryptogram(s.keys.enc, s.hostChallenge, s.seqCounter, s.cardChallenge)
	if err != nil {
		return nil, err
	}
	if !verifyCryptogram(expected, cardCryptogram) {
		return nil, ErrCryptogramMismatch
	}

	hostCryptogram, err := scp02Cryptogram(s.keys.enc, s.seqCounter, s.cardChallenge, s.hostChallenge)
	if err != nil {
		return nil, err
	}

	// First C-MAC of the session: ICV is zero.
	s.macChain = make([]byte, 8)
	s.rmacChain = make([]byte, 8)

	header := []byte{iso7816.ClaGPSecure, insExternalAuthenticate, s.level.p1(), 0x00, byte(len(hostCryptogram) + 8)}
	mac, err := retailMAC(s.keys.mac, s.macChain, append(header, hostCryptogram...))
	if err != nil {
		return nil, err
	}
	s.macChain = mac

	return iso7816.NewCommandAPDU(
		iso7816.ClaGPSecure, insExternalAuthenticate,
		s.level.p1(), 0x00,
		append(hostCryptogram, mac...), 0,
	), nil
}

// scp02SessionKey derives one session key: 3DES-CBC (zero ICV) over the
// derivation constant, the sequence counter and 12 zero bytes.
func scp02SessionKey(key []byte, constant uint16, seq []byte) ([]byte, error) {
	data := make([]byte, 16)
	data[0] = byte(constant >> 8)
	data[1] = byte(constant)
	copy(data[2:4], seq)

	out, err := des3CBCEncrypt(key, make([]byte, 8), data)
	if err != nil {
		return nil, err
	}
	return out[:16], nil
}

// scp02Cryptogram computes a card or host cryptogram: the last 3DES-CBC
// block over the padded concatenation of its three inputs.
func scp02Cryptogram(senc []byte, parts ...[]byte) ([]byte, error) {
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}

	out, err := des3CBCEncrypt(senc, make([]byte, 8), pad80(data, 8))
	if err != nil {
		return nil, err
	}
	return out[len(out)-8:], nil
}

// scp02Wrap applies the C-MAC (and command encryption at level 2 and up) to
// one command. The MAC covers the unencrypted command with Lc already
// counting the MAC; the ICV is the previous C-MAC.
func (s *Session) scp02Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	cla := cmd.Cla | 0x04

	macData := make([]byte, 0, 5+len(cmd.Data))
	macData = append(macData, cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(cmd.Data)+8))
	macData = append(macData, cmd.Data...)

	mac, err := retailMAC(s.keys.mac, s.macChain, macData)
	if err != nil {
		return nil, err
	}
	s.macChain = mac

	payload := cmd.Data
	if s.level >= LevelMACEnc && len(cmd.Data) > 0 {
		if payload, err = des3CBCEncrypt(s.keys.enc, make([]byte, 8), pad80(cmd.Data, 8)); err != nil {
			return nil, err
		}
	}

	if len(payload)+8 > iso7816.MaxShortLc {
		return nil, fmt.Errorf("%w: wrapped data field is %d bytes", iso7816.ErrUnsupportedLength, len(payload)+8)
	}

	s.cmdCount++
	wrapped := make([]byte, 0, len(payload)+8)
	wrapped = append(wrapped, payload...)
	wrapped = append(wrapped, mac...)
	return iso7816.NewCommandAPDU(cla, cmd.Ins, cmd.P1, cmd.P2, wrapped, cmd.Ne), nil
}

// scp02Unwrap verifies the response R-MAC at security level 3. The R-MAC
// covers the response data and status word, chained across the session
// under the R-MAC session key. Error responses without a data field pass
// through unauthenticated, as cards do not MAC them.
func (s *Session) scp02Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if len(resp.Data) == 0 {
		return resp, nil
	}
	if len(resp.Data) < 8 {
		return nil, fmt.Errorf("%w: response too short for R-MAC", ErrResponseIntegrity)
	}

	split := len(resp.Data) - 8
	data, rmac := resp.Data[:split], resp.Data[split:]

	macInput := make([]byte, 0, len(data)+2)
	macInput = append(macInput, data...)
	macInput = append(macInput, resp.Status.SW1(), resp.Status.SW2())

	expected, err := retailMAC(s.keys.rmac, s.rmacChain, macInput)
	if err != nil {
		return nil, err
	}
	if !verifyCryptogram(expected, rmac) {
		return nil, ErrResponseIntegrity
	}
	s.rmacChain = expected

	return &iso7816.ResponseAPDU{Data: data, Status: resp.Status}, nil
}
