package iso7816

import (
	"fmt"

	"github.com/veenone/ccm-tool/pkg/bits"
)

// Status Word semantics according to ISO 7816-4 and GlobalPlatform.
//
// Most status words are static 2-byte values (0x9000 success), but a few
// ranges are dynamic and carry context:
//
// 1. '61XX': Process completed, XX response bytes available (GET RESPONSE).
// 2. '6CXX': Wrong length, XX is the correct Le.
// 3. '63CX': Warning where the low nibble is a counter (PIN retries).
//
// GlobalPlatform adds '6310' (more GET STATUS data available, reissue with
// the next-occurrence bit) on top of the interindustry set.

// StatusWord represents the two-byte status response (SW1-SW2).
type StatusWord uint16

// NewStatusWord creates a StatusWord from the two trailer bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte of the status word.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the low byte of the status word.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsSuccess returns true for 9000 and for 61XX (data available).
func (sw StatusWord) IsSuccess() bool {
	return sw == SWNoError || sw.SW1() == 0x61
}

// IsMoreData reports the GlobalPlatform GET STATUS continuation word.
func (sw StatusWord) IsMoreData() bool {
	return sw == SWMoreDataAvailable
}

// IsWarning returns true for the 62XX and 63XX ranges.
func (sw StatusWord) IsWarning() bool {
	sw1 := sw.SW1()
	return sw1 == 0x62 || sw1 == 0x63
}

// IsError returns true for execution and checking errors (64XX to 6FXX).
func (sw StatusWord) IsError() bool {
	sw1 := sw.SW1()
	return sw1 >= 0x64 && sw1 <= 0x6F
}

// IsCounter checks if the word carries a retry counter (63CX).
func (sw StatusWord) IsCounter() bool {
	if sw.SW1() != 0x63 {
		return false
	}
	return bits.GetRange(sw.SW2(), 8, 5) == 0x0C
}

// Counter returns the retry counter of a 63CX word (0 otherwise).
func (sw StatusWord) Counter() int {
	if !sw.IsCounter() {
		return 0
	}
	return int(bits.GetRange(sw.SW2(), 4, 1))
}

// Verbose returns a human-readable description, resolving the dynamic
// ranges before the static table.
func (sw StatusWord) Verbose() string {
	sw1 := sw.SW1()
	sw2 := sw.SW2()

	switch {
	case sw1 == 0x61:
		return fmt.Sprintf("[%04X] Process completed, %d bytes available", uint16(sw), sw2)
	case sw1 == 0x6C:
		return fmt.Sprintf("[%04X] Wrong length, correct Le is %d", uint16(sw), sw2)
	case sw.IsCounter():
		return fmt.Sprintf("[%04X] Warning: counter = %d", uint16(sw), sw.Counter())
	}

	if desc, ok := statusDescriptions[sw]; ok {
		return fmt.Sprintf("[%04X] %s", uint16(sw), desc)
	}
	return fmt.Sprintf("[%04X] %s", uint16(sw), sw.categoryDescription())
}

// categoryDescription provides a fallback description based on SW1.
func (sw StatusWord) categoryDescription() string {
	switch sw.SW1() {
	case 0x62:
		return "Warning: NV memory unchanged"
	case 0x63:
		return "Warning: NV memory changed"
	case 0x64:
		return "Execution error: NV memory unchanged"
	case 0x65:
		return "Execution error: NV memory changed"
	case 0x66:
		return "Execution error: security issue"
	case 0x68:
		return "Checking error: function not supported"
	case 0x69:
		return "Checking error: command not allowed"
	case 0x6A:
		return "Checking error: wrong parameters"
	default:
		return "Unknown status"
	}
}

// Status words used by the GlobalPlatform command set, plus the
// interindustry codes the engine reacts to.
const (
	SWNoError StatusWord = 0x9000

	// GlobalPlatform GET STATUS: more data available, reissue the command
	// with the next-occurrence bit set in P2.
	SWMoreDataAvailable StatusWord = 0x6310

	// Authentication of the host cryptogram failed.
	SWAuthenticationFailed StatusWord = 0x6300

	SWWrongLength              StatusWord = 0x6700
	SWSecurityStatusNotSat     StatusWord = 0x6982
	SWAuthMethodBlocked        StatusWord = 0x6983
	SWReferencedDataNotUsable  StatusWord = 0x6984
	SWConditionsOfUseNotSat    StatusWord = 0x6985
	SWIncorrectParamsData      StatusWord = 0x6A80
	SWFunctionNotSupported     StatusWord = 0x6A81
	SWFileOrAppNotFound        StatusWord = 0x6A82
	SWRecordNotFound           StatusWord = 0x6A83
	SWNotEnoughMemory          StatusWord = 0x6A84
	SWIncorrectP1P2            StatusWord = 0x6A86
	SWReferencedDataNotFound   StatusWord = 0x6A88
	SWFileAlreadyExists        StatusWord = 0x6A89
	SWDFNameAlreadyExists      StatusWord = 0x6A8A
	SWWrongP1P2                StatusWord = 0x6B00
	SWInstructionNotSupported  StatusWord = 0x6D00
	SWClassNotSupported        StatusWord = 0x6E00
	SWNoPreciseDiagnosis       StatusWord = 0x6F00
	SWSecureMessagingNotSupp   StatusWord = 0x6882
	SWSecurityStatusObjMissing StatusWord = 0x6987
	SWSecurityStatusObjWrong   StatusWord = 0x6988
)

var statusDescriptions = map[StatusWord]string{
	SWNoError:                  "No error",
	SWMoreDataAvailable:        "More data available",
	SWAuthenticationFailed:     "Authentication of host cryptogram failed",
	SWWrongLength:              "Wrong length",
	SWSecurityStatusNotSat:     "Security status not satisfied",
	SWAuthMethodBlocked:        "Authentication method blocked",
	SWReferencedDataNotUsable:  "Referenced data not usable",
	SWConditionsOfUseNotSat:    "Conditions of use not satisfied",
	SWIncorrectParamsData:      "Incorrect parameters in data field",
	SWFunctionNotSupported:     "Function not supported",
	SWFileOrAppNotFound:        "File or application not found",
	SWRecordNotFound:           "Record not found",
	SWNotEnoughMemory:          "Not enough memory space",
	SWIncorrectP1P2:            "Incorrect parameters P1-P2",
	SWReferencedDataNotFound:   "Referenced data not found",
	SWFileAlreadyExists:        "File already exists",
	SWDFNameAlreadyExists:      "DF name already exists",
	SWWrongP1P2:                "Wrong parameters P1-P2",
	SWInstructionNotSupported:  "Instruction not supported or invalid",
	SWClassNotSupported:        "Class not supported",
	SWNoPreciseDiagnosis:       "No precise diagnosis",
	SWSecureMessagingNotSupp:   "Secure messaging not supported",
	SWSecurityStatusObjMissing: "Expected secure messaging object missing",
	SWSecurityStatusObjWrong:   "Secure messaging object incorrect",
}
