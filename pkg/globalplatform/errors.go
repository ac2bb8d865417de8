package globalplatform

import (
	"errors"
	"fmt"

	"github.com/veenone/ccm-tool/pkg/iso7816"
)

// Semantic outcomes of card-refused operations. Each is reachable through a
// *CardError, which additionally carries the raw status word and the
// operation that triggered it.
var (
	// ErrInvalidAID reports an AID outside the 5-16 byte range. Checked
	// locally, never sent to the card.
	ErrInvalidAID = errors.New("globalplatform: invalid AID")

	// ErrCardManagerNotFound reports that the ISD could not be selected.
	ErrCardManagerNotFound = errors.New("globalplatform: card manager not found")

	// ErrObjectNotFound reports a command referencing an AID the card does
	// not know.
	ErrObjectNotFound = errors.New("globalplatform: object not found")

	// ErrInsufficientPrivileges reports a refusal because the current
	// security status does not satisfy the command's requirements.
	ErrInsufficientPrivileges = errors.New("globalplatform: insufficient privileges")

	// ErrDuplicateAID reports an INSTALL colliding with a registered AID.
	ErrDuplicateAID = errors.New("globalplatform: AID already registered")

	// ErrAuthenticationFailed reports a host authentication refusal.
	ErrAuthenticationFailed = errors.New("globalplatform: authentication failed")

	// ErrIllegalLifecycleTransition reports a CLFDB request the transition
	// table forbids. Rejected locally, before any transport call.
	ErrIllegalLifecycleTransition = errors.New("globalplatform: illegal lifecycle transition")

	// ErrExtraditionNotPermitted reports an extradition target that is not a
	// security domain or lacks the security domain privilege. Rejected
	// locally.
	ErrExtraditionNotPermitted = errors.New("globalplatform: extradition not permitted")

	// ErrUnknownStatus marks card status words with no table entry. The
	// *CardError still carries the raw word for diagnosis.
	ErrUnknownStatus = errors.New("globalplatform: unknown status word")
)

// statusOutcomes maps card status words to semantic outcomes. Unmapped words
// surface as ErrUnknownStatus rather than a panic or a silent success.
var statusOutcomes = map[iso7816.StatusWord]error{
	iso7816.SWReferencedDataNotFound: ErrObjectNotFound,
	iso7816.SWFileOrAppNotFound:      ErrObjectNotFound,
	iso7816.SWSecurityStatusNotSat:   ErrInsufficientPrivileges,
	iso7816.SWConditionsOfUseNotSat:  ErrInsufficientPrivileges,
	iso7816.SWAuthenticationFailed:   ErrAuthenticationFailed,
	iso7816.SWIncorrectParamsData:    ErrDuplicateAID,
	iso7816.SWFileAlreadyExists:      ErrDuplicateAID,
}

// CardError is a card-reported refusal: the raw status word together with
// the mapped semantic outcome, so callers can match on the sentinel while
// still logging the exact word.
type CardError struct {
	Operation string
	SW        iso7816.StatusWord
	Outcome   error
}

func (e *CardError) Error() string {
	return fmt.Sprintf("globalplatform: %s rejected: %s", e.Operation, e.SW.Verbose())
}

func (e *CardError) Unwrap() error {
	return e.Outcome
}

// checkStatus turns a non-success status word into a *CardError carrying the
// table-mapped outcome.
func checkStatus(operation string, sw iso7816.StatusWord) error {
	if sw.IsSuccess() {
		return nil
	}
	outcome, ok := statusOutcomes[sw]
	if !ok {
		outcome = ErrUnknownStatus
	}
	return &CardError{Operation: operation, SW: sw, Outcome: outcome}
}
