package globalplatform

import (
	"fmt"

	"github.com/veenone/ccm-tool/pkg/tlv"
)

// GET STATUS RESPONSE (TLV format, GP Card Specification §11.4.3):
// Each registered object is one E3 template:
//
//	E3
//	  4F    AID
//	  9F70  lifecycle state (1 byte, 2 for the card itself)
//	  C5    privileges (1 or 3 bytes)
//	  CC    associated security domain AID (optional)
//
// Unknown children are ignored; templates with an out-of-range AID are
// reported as a parse error for that object and dropped from the result,
// never returned half-filled.

// GET STATUS response template tags.
const (
	tagStatusTemplate uint = 0xE3
	tagAID            uint = 0x4F
	tagLifecycle      uint = 0x9F70
	tagPrivileges     uint = 0xC5
	tagAssociatedSD   uint = 0xCC
)

// Kind classifies a registered card object.
type Kind int

const (
	KindISD Kind = iota
	KindSSD
	KindAMSD
	KindDMSD
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindISD:
		return "ISD"
	case KindSSD:
		return "SSD"
	case KindAMSD:
		return "AMSD"
	case KindDMSD:
		return "DMSD"
	case KindApplication:
		return "Application"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsSecurityDomain reports whether the kind is any security domain variant.
func (k Kind) IsSecurityDomain() bool {
	return k == KindISD || k == KindSSD || k == KindAMSD || k == KindDMSD
}

// scope returns the lifecycle state space the kind lives in.
func (k Kind) scope() Scope {
	if k == KindISD {
		return ScopeCard
	}
	return ScopeApplication
}

// CardObject is one entry of the card's registry as reported by GET STATUS.
type CardObject struct {
	AID        AID
	Kind       Kind
	Lifecycle  Lifecycle
	Privileges Privileges

	// AssociatedSD is the AID of the security domain the object is
	// extradited to. A back-reference only: association changes do not move
	// the object in the registry.
	AssociatedSD AID
}

func (o CardObject) String() string {
	return fmt.Sprintf("%s %s lifecycle=%s privileges=%s",
		o.Kind, o.AID, o.Lifecycle.Describe(o.Kind.scope()), o.Privileges)
}

// parseStatusTemplate decodes one E3 template into a CardObject. The kind is
// derived from the privilege field; the ISD is recognized by its AID.
func parseStatusTemplate(value []byte, isdAID AID) (CardObject, error) {
	var obj CardObject
	for rec, err := range tlv.Records(value) {
		if err != nil {
			return CardObject{}, err
		}
		switch rec.Tag {
		case tagAID:
			obj.AID = AID(rec.Value)
		case tagLifecycle:
			if len(rec.Value) > 0 {
				obj.Lifecycle = Lifecycle(rec.Value[0])
			}
		case tagPrivileges:
			obj.Privileges = Privileges(rec.Value)
		case tagAssociatedSD:
			obj.AssociatedSD = AID(rec.Value)
		}
	}

	if err := obj.AID.Validate(); err != nil {
		return CardObject{}, fmt.Errorf("status template: %w", err)
	}
	obj.Kind = classify(obj.AID, obj.Privileges, isdAID)
	return obj, nil
}

// classify derives the object kind from its privileges: the security domain
// privilege separates domains from applications, and the management
// privileges separate the domain variants.
func classify(aid AID, priv Privileges, isdAID AID) Kind {
	if !priv.Has(PrivSecurityDomain) {
		return KindApplication
	}
	switch {
	case aid.Equal(isdAID):
		return KindISD
	case priv.AuthorizedManagement():
		return KindAMSD
	case priv.Has(PrivDelegatedManagement):
		return KindDMSD
	default:
		return KindSSD
	}
}
