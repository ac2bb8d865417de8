package globalplatform

import (
	"github.com/veenone/ccm-tool/pkg/iso7816"
)

// COMMAND SET (GP Card Specification §11):
// Pure builders for the content management commands. Routing, secure
// channel wrapping and status mapping live in the Manager; everything here
// is a deterministic transform from parameters to a CommandAPDU.

// GlobalPlatform instruction bytes.
const (
	insSelect    byte = 0xA4
	insGetStatus byte = 0xF2
	insInstall   byte = 0xE6
	insSetStatus byte = 0xF0
	insStoreData byte = 0xE2
	insGetData   byte = 0xCA
)

// Class selects which slice of the registry GET STATUS reports (P1).
type Class byte

const (
	// ClassISD reports the issuer security domain only.
	ClassISD Class = 0x80
	// ClassAppsAndSD reports applications and subordinate security domains.
	ClassAppsAndSD Class = 0x40
	// ClassLoadFiles reports executable load files.
	ClassLoadFiles Class = 0x20
)

// GET STATUS P2 bits: TLV response format and "next occurrence"
// continuation after SW 6310.
const (
	statusFormatTLV     byte = 0x02
	statusNextOccurence byte = 0x01
)

// SET STATUS P1: scope of the state change.
const (
	setStatusISD         byte = 0x80
	setStatusApplication byte = 0x40
	setStatusAssociation byte = 0x60
)

// INSTALL P1 phases.
const (
	installForInstallAndSelectable byte = 0x0C
)

// selectCommand builds SELECT [by name, first occurrence].
func selectCommand(aid AID) *iso7816.CommandAPDU {
	return iso7816.NewCommandAPDU(iso7816.ClaISO, insSelect, 0x04, 0x00, aid, iso7816.MaxShortLe)
}

// getStatusCommand builds GET STATUS in the TLV response format. The data
// field is an AID search pattern: empty matches every object of the class.
func getStatusCommand(class Class, filter AID, next bool) *iso7816.CommandAPDU {
	p2 := statusFormatTLV
	if next {
		p2 |= statusNextOccurence
	}
	data := append([]byte{byte(tagAID), byte(len(filter))}, filter...)
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insGetStatus, byte(class), p2, data, iso7816.MaxShortLe)
}

// installCommand builds INSTALL [for install and make selectable] for an
// on-card entity with no executable load file, the sequence used to create
// security domains from card-resident code.
func installCommand(aid AID, privileges Privileges) *iso7816.CommandAPDU {
	data := make([]byte, 0, 8+len(aid)+len(privileges))
	data = append(data, 0x00) // no executable load file AID
	data = append(data, 0x00) // no executable module AID
	data = append(data, byte(len(aid)))
	data = append(data, aid...)
	data = append(data, byte(len(privileges)))
	data = append(data, privileges...)
	data = append(data, 0x02, 0xC9, 0x00) // install parameters: empty C9
	data = append(data, 0x00)             // no install token
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insInstall, installForInstallAndSelectable, 0x00, data, 0)
}

// setStatusCommand builds SET STATUS for a lifecycle change.
func setStatusCommand(scope byte, target Lifecycle, aid AID) *iso7816.CommandAPDU {
	data := append([]byte{byte(len(aid))}, aid...)
	data = append(data, byte(target))
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insSetStatus, scope, 0x00, data, 0)
}

// extraditionCommand builds the SET STATUS association update moving an
// object under a new security domain.
func extraditionCommand(object, targetSD AID) *iso7816.CommandAPDU {
	data := make([]byte, 0, 2+len(object)+len(targetSD))
	data = append(data, byte(len(object)))
	data = append(data, object...)
	data = append(data, byte(len(targetSD)))
	data = append(data, targetSD...)
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insSetStatus, setStatusAssociation, 0x00, data, 0)
}

// getDataCommand builds GET DATA for a two-byte data object tag.
func getDataCommand(tag uint16) *iso7816.CommandAPDU {
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insGetData, byte(tag>>8), byte(tag), nil, iso7816.MaxShortLe)
}

// storeDataCommand builds one STORE DATA block. P1 carries the "last block"
// bit; P2 numbers the blocks from zero.
func storeDataCommand(block byte, last bool, data []byte) *iso7816.CommandAPDU {
	p1 := byte(0x00)
	if last {
		p1 = 0x80
	}
	return iso7816.NewCommandAPDU(iso7816.ClaGP, insStoreData, p1, block, data, 0)
}
