package scp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"

	"github.com/veenone/ccm-tool/pkg/iso7816"
)

// Session state machine:
//
//	Idle → ChallengeExchanged → Authenticated → Closed | Failed
//
// Initiate generates the host challenge, Authenticate consumes the card's
// INITIALIZE UPDATE response and produces the EXTERNAL AUTHENTICATE command,
// Wrap/Unwrap protect the command traffic. Any verification failure or
// transport fault moves the session to Failed; a failed session cannot be
// resumed, only replaced.

// State is the lifecycle state of a secure channel session.
type State int

const (
	StateIdle State = iota
	StateChallengeExchanged
	StateAuthenticated
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateChallengeExchanged:
		return "ChallengeExchanged"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// sessionKeys holds the derived session keys. dek is the sensitive-data
// wrapping key: derived for SCP02, the static key for SCP03.
type sessionKeys struct {
	enc  []byte
	mac  []byte
	rmac []byte
	dek  []byte
}

// Session is a single secure channel. It is not safe for concurrent use;
// independent sessions on separate readers may run in parallel.
type Session struct {
	keyset Keyset
	level  SecurityLevel
	state  State
	rand   io.Reader

	hostChallenge []byte
	cardChallenge []byte
	keys          sessionKeys

	// SCP02: 2-byte sequence counter from INITIALIZE UPDATE, 8-byte C-MAC
	// ICV chain and R-MAC chain.
	seqCounter []byte
	rmacChain  []byte

	// SCP03: 16-byte C-MAC chaining value; encCounter numbers every wrapped
	// command and feeds the encryption ICV.
	macChain   []byte
	encCounter uint64

	// cmdCount strictly increases per wrapped command for both protocols.
	cmdCount uint64

	inFlight bool
}

// NewSession creates an idle session for the keyset and target security
// level. The key material is validated up front.
func NewSession(ks Keyset, level SecurityLevel) (*Session, error) {
	if err := ks.Validate(); err != nil {
		return nil, err
	}
	if level < LevelMAC || level > LevelFull {
		return nil, fmt.Errorf("scp: security level %d out of range", level)
	}
	return &Session{
		keyset: ks,
		level:  level,
		state:  StateIdle,
		rand:   rand.Reader,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Level returns the negotiated security level.
func (s *Session) Level() SecurityLevel {
	return s.level
}

// Protocol returns the session's protocol variant.
func (s *Session) Protocol() Protocol {
	return s.keyset.Protocol
}

// Initiate generates a fresh host challenge and moves the session from Idle
// to ChallengeExchanged. The returned challenge is the INITIALIZE UPDATE
// data field.
func (s *Session) Initiate() ([]byte, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: Initiate in %s", ErrInvalidState, s.state)
	}

	challenge := make([]byte, s.keyset.challengeLen())
	if _, err := io.ReadFull(s.rand, challenge); err != nil {
		return nil, fmt.Errorf("scp: host challenge generation: %w", err)
	}

	s.hostChallenge = challenge
	s.state = StateChallengeExchanged
	return challenge, nil
}

// InitializeUpdate builds the INITIALIZE UPDATE command carrying the host
// challenge. Valid only after Initiate.
func (s *Session) InitializeUpdate() (*iso7816.CommandAPDU, error) {
	if s.state != StateChallengeExchanged {
		return nil, fmt.Errorf("%w: InitializeUpdate in %s", ErrInvalidState, s.state)
	}
	return iso7816.NewCommandAPDU(
		iso7816.ClaGP, insInitializeUpdate,
		s.keyset.Version, 0x00,
		s.hostChallenge, iso7816.MaxShortLe,
	), nil
}

// Authenticate consumes the INITIALIZE UPDATE response: it derives the
// session keys, verifies the card cryptogram in constant time and, on
// success, returns the C-MAC-protected EXTERNAL AUTHENTICATE command and
// moves the session to Authenticated. On cryptogram mismatch the session is
// Failed and must not be used further.
func (s *Session) Authenticate(initUpdateResponse []byte) (*iso7816.CommandAPDU, error) {
	if s.state != StateChallengeExchanged {
		return nil, fmt.Errorf("%w: Authenticate in %s", ErrInvalidState, s.state)
	}

	var (
		cmd *iso7816.CommandAPDU
		err error
	)
	switch s.keyset.Protocol {
	case SCP02:
		cmd, err = s.scp02Authenticate(initUpdateResponse)
	case SCP03:
		cmd, err = s.scp03Authenticate(initUpdateResponse)
	default:
		err = fmt.Errorf("%w: unsupported protocol %s", ErrInvalidKeyMaterial, s.keyset.Protocol)
	}

	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	s.state = StateAuthenticated
	slog.Debug("secure channel authenticated",
		"protocol", s.keyset.Protocol.String(),
		"level", int(s.level),
		"keyVersion", s.keyset.Version)
	return cmd, nil
}

// Wrap protects a command according to the session's protocol and security
// level. Valid only in Authenticated with no exchange in flight; each call
// advances the session's command counter and MAC chain, so a wrapped
// command must be transmitted exactly once.
func (s *Session) Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	if s.state != StateAuthenticated {
		return nil, fmt.Errorf("%w: Wrap in %s", ErrInvalidState, s.state)
	}
	if s.inFlight {
		return nil, ErrSessionBusy
	}

	prevCount := s.cmdCount
	var (
		wrapped *iso7816.CommandAPDU
		err     error
	)
	switch s.keyset.Protocol {
	case SCP02:
		wrapped, err = s.scp02Wrap(cmd)
	case SCP03:
		wrapped, err = s.scp03Wrap(cmd)
	}
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	if s.cmdCount <= prevCount {
		// Counter reuse would make the MAC replayable.
		s.state = StateFailed
		return nil, fmt.Errorf("%w: command counter did not advance", ErrInvalidState)
	}

	s.inFlight = true
	return wrapped, nil
}

// Unwrap verifies and strips the protection of a response to the last
// wrapped command. R-MAC verification failure poisons the session.
func (s *Session) Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if s.state != StateAuthenticated {
		return nil, fmt.Errorf("%w: Unwrap in %s", ErrInvalidState, s.state)
	}
	if !s.inFlight {
		return nil, fmt.Errorf("%w: no exchange in flight", ErrInvalidState)
	}
	s.inFlight = false

	if s.level < LevelFull {
		return resp, nil
	}

	var (
		out *iso7816.ResponseAPDU
		err error
	)
	switch s.keyset.Protocol {
	case SCP02:
		out, err = s.scp02Unwrap(resp)
	case SCP03:
		out, err = s.scp03Unwrap(resp)
	}
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	return out, nil
}

// WrapKey encrypts sensitive key material under the session DEK for
// transport inside STORE DATA / PUT KEY payloads.
func (s *Session) WrapKey(key []byte) ([]byte, error) {
	if s.state != StateAuthenticated {
		return nil, fmt.Errorf("%w: WrapKey in %s", ErrInvalidState, s.state)
	}
	switch s.keyset.Protocol {
	case SCP02:
		return des3CBCEncrypt(s.keys.dek, make([]byte, 8), pad80(key, 8))
	default:
		return aesCBCEncrypt(s.keys.dek, make([]byte, 16), pad80(key, 16))
	}
}

// Fail moves the session to Failed. Callers invoke it when the transport
// collaborator reports an error mid-exchange; there is no mid-protocol
// resume.
func (s *Session) Fail() {
	s.state = StateFailed
	s.inFlight = false
}

// Close moves the session to Closed. Idempotent; a closed session rejects
// all further operations.
func (s *Session) Close() {
	if s.state != StateFailed {
		s.state = StateClosed
	}
	s.inFlight = false
}

// verifyCryptogram compares an expected against a received cryptogram in
// constant time.
func verifyCryptogram(expected, got []byte) bool {
	return len(expected) == len(got) && subtle.ConstantTimeCompare(expected, got) == 1
}

// GlobalPlatform secure channel instructions.
const (
	insInitializeUpdate     byte = 0x50
	insExternalAuthenticate byte = 0x82
)

// Establish runs the full handshake against a card: INITIALIZE UPDATE,
// cryptogram verification and EXTERNAL AUTHENTICATE. On any transport
// failure or card refusal the session is Failed and an error is returned.
func Establish(client *iso7816.Client, ks Keyset, level SecurityLevel) (*Session, error) {
	s, err := NewSession(ks, level)
	if err != nil {
		return nil, err
	}

	if _, err := s.Initiate(); err != nil {
		return nil, err
	}
	initCmd, err := s.InitializeUpdate()
	if err != nil {
		return nil, err
	}

	trace, err := client.Send(initCmd)
	if err != nil {
		s.Fail()
		return nil, &TransportError{Err: err}
	}
	if !trace.IsSuccess() {
		s.Fail()
		return nil, &StatusError{Step: "INITIALIZE UPDATE", SW: uint16(trace.Status())}
	}

	extAuth, err := s.Authenticate(trace.Data())
	if err != nil {
		return nil, err
	}

	trace, err = client.Send(extAuth)
	if err != nil {
		s.Fail()
		return nil, &TransportError{Err: err}
	}
	if !trace.IsSuccess() {
		s.Fail()
		return nil, &StatusError{Step: "EXTERNAL AUTHENTICATE", SW: uint16(trace.Status())}
	}

	return s, nil
}
