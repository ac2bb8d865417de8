package globalplatform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/veenone/ccm-tool/pkg/iso7816"
	"github.com/veenone/ccm-tool/pkg/tlv"
)

func TestParseStatusTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     CardObject
	}{
		{
			name:     "issuer security domain",
			template: "4F08A000000151000000 9F70010F C50180",
			want: CardObject{
				AID:        AID(tlv.Hex("A000000151000000")),
				Kind:       KindISD,
				Lifecycle:  LifecycleSecured,
				Privileges: Privileges{0x80},
			},
		},
		{
			name:     "supplementary security domain",
			template: "4F08A000000151000001 9F700107 C50180",
			want: CardObject{
				AID:        AID(tlv.Hex("A000000151000001")),
				Kind:       KindSSD,
				Lifecycle:  LifecycleSelectable,
				Privileges: Privileges{0x80},
			},
		},
		{
			name:     "delegated management domain",
			template: "4F08A000000151000002 9F700107 C501A0",
			want: CardObject{
				AID:        AID(tlv.Hex("A000000151000002")),
				Kind:       KindDMSD,
				Lifecycle:  LifecycleSelectable,
				Privileges: Privileges{0xA0},
			},
		},
		{
			name:     "authorized management domain",
			template: "4F08A000000151000003 9F700107 C503804000",
			want: CardObject{
				AID:        AID(tlv.Hex("A000000151000003")),
				Kind:       KindAMSD,
				Lifecycle:  LifecycleSelectable,
				Privileges: Privileges{0x80, 0x40, 0x00},
			},
		},
		{
			name:     "application with association",
			template: "4F05A102030405 9F700183 C50100 CC08A000000151000001",
			want: CardObject{
				AID:          AID(tlv.Hex("A102030405")),
				Kind:         KindApplication,
				Lifecycle:    LifecycleLocked,
				Privileges:   Privileges{0x00},
				AssociatedSD: AID(tlv.Hex("A000000151000001")),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStatusTemplate(tlv.Hex(tt.template), ISD)
			if err != nil {
				t.Fatalf("parseStatusTemplate failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("object mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseStatusTemplate_BadAID(t *testing.T) {
	// Two-byte AID is out of range and must not produce a half-filled object.
	_, err := parseStatusTemplate(tlv.Hex("4F02AABB 9F700107 C50100"), ISD)
	if !errors.Is(err, ErrInvalidAID) {
		t.Fatalf("expected ErrInvalidAID, got %v", err)
	}
}

func TestParseStatusTemplate_Truncated(t *testing.T) {
	// 9F70 claims four bytes, one remains.
	_, err := parseStatusTemplate(tlv.Hex("4F05A102030405 9F700407"), ISD)
	if !errors.Is(err, tlv.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestAIDValidation(t *testing.T) {
	if err := AID(tlv.Hex("A102030405")).Validate(); err != nil {
		t.Errorf("5-byte AID should be valid: %v", err)
	}
	if err := AID(tlv.Hex("A1020304")).Validate(); !errors.Is(err, ErrInvalidAID) {
		t.Errorf("4-byte AID should be invalid, got %v", err)
	}
	if err := AID(make([]byte, 17)).Validate(); !errors.Is(err, ErrInvalidAID) {
		t.Errorf("17-byte AID should be invalid, got %v", err)
	}

	aid, err := ParseAID("A0 00 00 01 51 00 00 00")
	if err != nil {
		t.Fatalf("ParseAID failed: %v", err)
	}
	if !aid.Equal(ISD) {
		t.Errorf("parsed %s, want %s", aid, ISD)
	}
	if _, err := ParseAID("xyz"); !errors.Is(err, ErrInvalidAID) {
		t.Errorf("expected ErrInvalidAID for junk input, got %v", err)
	}
}

func TestLifecycleDescribe(t *testing.T) {
	tests := []struct {
		state Lifecycle
		scope Scope
		want  string
	}{
		{LifecycleOpReady, ScopeCard, "OP_READY"},
		{LifecycleSecured, ScopeCard, "SECURED"},
		{LifecycleCardLocked, ScopeCard, "CARD_LOCKED"},
		{LifecycleTerminated, ScopeCard, "TERMINATED"},
		{LifecycleInstalled, ScopeApplication, "INSTALLED"},
		{LifecycleSelectable, ScopeApplication, "SELECTABLE"},
		{LifecycleSelectable | 0x80, ScopeApplication, "LOCKED(SELECTABLE)"},
		{LifecycleTerminated, ScopeApplication, "TERMINATED"},
	}
	for _, tt := range tests {
		if got := tt.state.Describe(tt.scope); got != tt.want {
			t.Errorf("Describe(%02X, %d) = %q, want %q", byte(tt.state), tt.scope, got, tt.want)
		}
	}
}

func TestDefaultTransitions(t *testing.T) {
	table := DefaultTransitions()

	tests := []struct {
		name   string
		scope  Scope
		from   Lifecycle
		op     Operation
		want   Lifecycle
		wantOK bool
	}{
		{"lock selectable app", ScopeApplication, LifecycleSelectable, OpLock, LifecycleSelectable | 0x80, true},
		{"unlock locked app", ScopeApplication, LifecycleSelectable | 0x80, OpUnlock, LifecycleSelectable, true},
		{"make installed selectable", ScopeApplication, LifecycleInstalled, OpMakeSelectable, LifecycleSelectable, true},
		{"terminate selectable app", ScopeApplication, LifecycleSelectable, OpTerminate, LifecycleTerminated, true},
		{"lock secured card", ScopeCard, LifecycleSecured, OpLock, LifecycleCardLocked, true},
		{"unlock locked card", ScopeCard, LifecycleCardLocked, OpUnlock, LifecycleSecured, true},
		{"terminated is terminal (app)", ScopeApplication, LifecycleTerminated, OpUnlock, 0, false},
		{"terminated is terminal (card)", ScopeCard, LifecycleTerminated, OpUnlock, 0, false},
		{"cannot lock installed app", ScopeApplication, LifecycleInstalled, OpLock, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Target(tt.scope, tt.from, tt.op)
			if ok != tt.wantOK {
				t.Fatalf("legal = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("target = %02X, want %02X", byte(got), byte(tt.want))
			}
		})
	}
}

func TestPrivilegesString(t *testing.T) {
	tests := []struct {
		priv Privileges
		want string
	}{
		{Privileges{0x80}, "SecurityDomain"},
		{Privileges{0xA0}, "SecurityDomain|DelegatedManagement"},
		{Privileges{0x80, 0x40, 0x00}, "SecurityDomain|AuthorizedManagement"},
		{Privileges{0x00}, "none"},
		{nil, "none"},
	}
	for _, tt := range tests {
		if got := tt.priv.String(); got != tt.want {
			t.Errorf("Privileges%v = %q, want %q", []byte(tt.priv), got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	aid := AID(tlv.Hex("A102030405"))

	r.Put(CardObject{AID: aid, Kind: KindApplication, Lifecycle: LifecycleInstalled})
	r.Put(CardObject{AID: aid, Kind: KindApplication, Lifecycle: LifecycleSelectable})

	if r.Len() != 1 {
		t.Fatalf("re-observation must replace, got %d entries", r.Len())
	}
	obj, ok := r.Get(aid)
	if !ok || obj.Lifecycle != LifecycleSelectable {
		t.Fatalf("Get = %+v, %v", obj, ok)
	}

	sd := AID(tlv.Hex("A000000151000001"))
	r.Associate(aid, sd)
	obj, _ = r.Get(aid)
	if !obj.AssociatedSD.Equal(sd) {
		t.Errorf("AssociatedSD = %s, want %s", obj.AssociatedSD, sd)
	}
}

func TestStatusOutcomeMapping(t *testing.T) {
	tests := []struct {
		sw   uint16
		want error
	}{
		{0x9000, nil},
		{0x6A88, ErrObjectNotFound},
		{0x6A82, ErrObjectNotFound},
		{0x6982, ErrInsufficientPrivileges},
		{0x6300, ErrAuthenticationFailed},
		{0x6A80, ErrDuplicateAID},
		{0x6A89, ErrDuplicateAID},
		{0x6F12, ErrUnknownStatus},
	}

	for _, tt := range tests {
		err := checkStatus("TEST", iso7816.StatusWord(tt.sw))
		if tt.want == nil {
			if err != nil {
				t.Errorf("SW %04X: expected success, got %v", tt.sw, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("SW %04X: got %v, want %v", tt.sw, err, tt.want)
		}
		var ce *CardError
		if !errors.As(err, &ce) || uint16(ce.SW) != tt.sw {
			t.Errorf("SW %04X: CardError must carry the raw word", tt.sw)
		}
	}
}
