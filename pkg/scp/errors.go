package scp

import (
	"errors"
	"fmt"
)

// Error taxonomy of the secure channel engine. State and key material errors
// are programming/configuration errors local to the call; cryptographic
// verification failures additionally poison the session, which must not be
// used again.
var (
	// ErrInvalidState reports an operation invoked outside its legal
	// session state (e.g. Wrap before Authenticate).
	ErrInvalidState = errors.New("scp: operation not valid in current session state")

	// ErrSessionBusy reports a second Wrap before the previous response
	// was unwrapped. A session carries one exchange at a time.
	ErrSessionBusy = errors.New("scp: previous exchange still in flight")

	// ErrInvalidKeyMaterial reports key lengths unusable for the protocol.
	ErrInvalidKeyMaterial = errors.New("scp: invalid key material")

	// ErrCryptogramMismatch reports a card cryptogram that does not match
	// the host's computation. The session transitions to Failed.
	ErrCryptogramMismatch = errors.New("scp: card cryptogram mismatch")

	// ErrResponseIntegrity reports an R-MAC verification failure. The
	// session transitions to Failed.
	ErrResponseIntegrity = errors.New("scp: response MAC verification failed")

	// ErrMalformedCard reports an INITIALIZE UPDATE response that does not
	// match the protocol's layout.
	ErrMalformedCard = errors.New("scp: malformed card response")
)

// TransportError wraps an opaque I/O failure from the transport
// collaborator. The affected session is moved to Failed; retrying requires
// a fresh session at a higher layer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scp: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a card-refused establishment step together with the
// status word the card returned.
type StatusError struct {
	Step string // "INITIALIZE UPDATE" or "EXTERNAL AUTHENTICATE"
	SW   uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scp: %s rejected with SW=%04X", e.Step, e.SW)
}
