package scp

import (
	"fmt"

	"github.com/veenone/ccm-tool/pkg/iso7816"
)

// SCP03 (GP Amendment D v1.2). Session keys and cryptograms come from the
// SP 800-108 CMAC KDF over the host and card challenges. Every C-MAC seeds
// the next via the 16-byte MAC chaining value, and a per-command counter
// drives the CBC encryption ICV, making each wrapped command unique and
// non-replayable.

// SCP03 KDF derivation constants.
const (
	scp03DeriveCardCryptogram byte = 0x00
	scp03DeriveHostCryptogram byte = 0x01
	scp03DeriveSEnc           byte = 0x04
	scp03DeriveSMac           byte = 0x06
	scp03DeriveSRmac          byte = 0x07

	scp03CryptogramBits = 64
)

// scp03Authenticate parses the INITIALIZE UPDATE response, derives the
// session keys via the CMAC KDF and verifies the card cryptogram. It
// returns the EXTERNAL AUTHENTICATE command carrying the host cryptogram
// under the session's first C-MAC.
func (s *Session) scp03Authenticate(resp []byte) (*iso7816.CommandAPDU, error) {
	// Layout: key diversification data (10), key version (1), protocol id
	// (1), i-parameter (1), card challenge (8), card cryptogram (8),
	// optional sequence counter (3, pseudo-random challenge mode).
	if len(resp) < 29 {
		return nil, fmt.Errorf("%w: INITIALIZE UPDATE response is %d bytes, want 29", ErrMalformedCard, len(resp))
	}
	if resp[11] != byte(SCP03) {
		return nil, fmt.Errorf("%w: card negotiated SCP%02X, keyset is SCP03", ErrMalformedCard, resp[11])
	}

	s.cardChallenge = resp[13:21]
	cardCryptogram := resp[21:29]

	context := make([]byte, 0, len(s.hostChallenge)+len(s.cardChallenge))
	context = append(context, s.hostChallenge...)
	context = append(context, s.cardChallenge...)

	keyBits := len(s.keyset.ENC) * 8
	var err error
	if s.keys.enc, err = kdf(s.keyset.ENC, scp03DeriveSEnc, context, keyBits); err != nil {
		return nil, err
	}
	if s.keys.mac, err = kdf(s.keyset.MAC, scp03DeriveSMac, context, keyBits); err != nil {
		return nil, err
	}
	if s.keys.rmac, err = kdf(s.keyset.MAC, scp03DeriveSRmac, context, keyBits); err != nil {
		return nil, err
	}
	// The SCP03 DEK is the static key, not a session derivation.
	s.keys.dek = s.keyset.DEK

	expected, err := kdf(s.keys.mac, scp03DeriveCardCryptogram, context, scp03CryptogramBits)
	if err != nil {
		return nil, err
	}
	if !verifyCryptogram(expected, cardCryptogram) {
		return nil, ErrCryptogramMismatch
	}

	hostCryptogram, err := kdf(s.keys.mac, scp03DeriveHostCryptogram, context, scp03CryptogramBits)
	if err != nil {
		return nil, err
	}

	// First C-MAC: chaining value starts at zero. The encryption counter
	// starts counting with the first wrapped command after authentication.
	s.macChain = make([]byte, 16)
	s.encCounter = 0

	header := []byte{iso7816.ClaGPSecure, insExternalAuthenticate, s.level.p1(), 0x00, byte(len(hostCryptogram) + 8)}
	macInput := make([]byte, 0, 16+len(header)+len(hostCryptogram))
	macInput = append(macInput, s.macChain...)
	macInput = append(macInput, header...)
	macInput = append(macInput, hostCryptogram...)

	chain, err := aesCMAC(s.keys.mac, macInput)
	if err != nil {
		return nil, err
	}
	s.macChain = chain

	return iso7816.NewCommandAPDU(
		iso7816.ClaGPSecure, insExternalAuthenticate,
		s.level.p1(), 0x00,
		append(hostCryptogram, chain[:8]...), 0,
	), nil
}

// scp03Wrap applies command encryption (level 2 and up) and the C-MAC to
// one command. The encryption counter is advanced for every wrapped
// command, encrypted or not, so the ICV never repeats within a session.
func (s *Session) scp03Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	s.encCounter++
	s.cmdCount++

	payload := cmd.Data
	if s.level >= LevelMACEnc && len(cmd.Data) > 0 {
		icv, err := aesECBEncrypt(s.keys.enc, counterBlock(s.encCounter, false))
		if err != nil {
			return nil, err
		}
		if payload, err = aesCBCEncrypt(s.keys.enc, icv, pad80(cmd.Data, 16)); err != nil {
			return nil, err
		}
	}

	if len(payload)+8 > iso7816.MaxShortLc {
		return nil, fmt.Errorf("%w: wrapped data field is %d bytes", iso7816.ErrUnsupportedLength, len(payload)+8)
	}

	cla := cmd.Cla | 0x04
	macInput := make([]byte, 0, 16+5+len(payload))
	macInput = append(macInput, s.macChain...)
	macInput = append(macInput, cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(payload)+8))
	macInput = append(macInput, payload...)

	chain, err := aesCMAC(s.keys.mac, macInput)
	if err != nil {
		return nil, err
	}
	s.macChain = chain

	wrapped := make([]byte, 0, len(payload)+8)
	wrapped = append(wrapped, payload...)
	wrapped = append(wrapped, chain[:8]...)
	return iso7816.NewCommandAPDU(cla, cmd.Ins, cmd.P1, cmd.P2, wrapped, cmd.Ne), nil
}

// scp03Unwrap verifies the response R-MAC at security level 3: CMAC under
// S-RMAC over the command's MAC chaining value, the response data and the
// status word. Error responses without a data field pass through, as cards
// do not MAC them.
func (s *Session) scp03Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if len(resp.Data) == 0 {
		return resp, nil
	}
	if len(resp.Data) < 8 {
		return nil, fmt.Errorf("%w: response too short for R-MAC", ErrResponseIntegrity)
	}

	split := len(resp.Data) - 8
	data, rmac := resp.Data[:split], resp.Data[split:]

	macInput := make([]byte, 0, 16+len(data)+2)
	macInput = append(macInput, s.macChain...)
	macInput = append(macInput, data...)
	macInput = append(macInput, resp.Status.SW1(), resp.Status.SW2())

	full, err := aesCMAC(s.keys.rmac, macInput)
	if err != nil {
		return nil, err
	}
	if !verifyCryptogram(full[:8], rmac) {
		return nil, ErrResponseIntegrity
	}

	return &iso7816.ResponseAPDU{Data: data, Status: resp.Status}, nil
}
