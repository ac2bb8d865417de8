package globalplatform

import "fmt"

// LIFECYCLE (GP Card Specification §5):
// The card and each of its objects carry a one-byte lifecycle state. The
// byte values overlap between scopes: 0x0F is PERSONALIZED for an
// application but SECURED for the card, and locking sets the high bit on
// the application's current state. Transitions are therefore keyed by
// scope, not only by value, and the legality table is replaceable because
// card profiles differ in which transitions they accept.

// Lifecycle is a raw GP lifecycle state byte.
type Lifecycle byte

// Card-scope states (the ISD mirrors the card lifecycle).
const (
	LifecycleOpReady     Lifecycle = 0x01
	LifecycleInitialized Lifecycle = 0x07
	LifecycleSecured     Lifecycle = 0x0F
	LifecycleCardLocked  Lifecycle = 0x7F
	LifecycleTerminated  Lifecycle = 0xFF
)

// Application and security domain states.
const (
	LifecycleInstalled    Lifecycle = 0x03
	LifecycleSelectable   Lifecycle = 0x07
	LifecyclePersonalized Lifecycle = 0x0F
	LifecycleLocked       Lifecycle = 0x83
)

// Scope distinguishes the two lifecycle state spaces.
type Scope int

const (
	// ScopeCard covers the ISD, whose state is the card's state.
	ScopeCard Scope = iota
	// ScopeApplication covers applications and subordinate security domains.
	ScopeApplication
)

// Describe renders a lifecycle byte for its scope. Locked application
// states keep their underlying state visible.
func (l Lifecycle) Describe(scope Scope) string {
	if scope == ScopeCard {
		switch l {
		case LifecycleOpReady:
			return "OP_READY"
		case LifecycleInitialized:
			return "INITIALIZED"
		case LifecycleSecured:
			return "SECURED"
		case LifecycleCardLocked:
			return "CARD_LOCKED"
		case LifecycleTerminated:
			return "TERMINATED"
		}
		return fmt.Sprintf("0x%02X", byte(l))
	}

	switch l {
	case LifecycleInstalled:
		return "INSTALLED"
	case LifecycleSelectable:
		return "SELECTABLE"
	case LifecyclePersonalized:
		return "PERSONALIZED"
	case LifecycleTerminated:
		return "TERMINATED"
	}
	if l&0x80 != 0 {
		return fmt.Sprintf("LOCKED(%s)", (l &^ 0x80).Describe(ScopeApplication))
	}
	return fmt.Sprintf("0x%02X", byte(l))
}

// Operation is a CLFDB lifecycle request.
type Operation int

const (
	OpLock Operation = iota
	OpUnlock
	OpTerminate
	OpMakeSelectable
)

func (o Operation) String() string {
	switch o {
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	case OpTerminate:
		return "TERMINATE"
	case OpMakeSelectable:
		return "MAKE_SELECTABLE"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Transition identifies one cell of the legality table.
type Transition struct {
	Scope Scope
	From  Lifecycle
	Op    Operation
}

// TransitionTable maps legal transitions to their target state. Requests
// with no entry are rejected locally with ErrIllegalLifecycleTransition.
type TransitionTable map[Transition]Lifecycle

// DefaultTransitions returns the legality table for a GP 2.2 profile.
// TERMINATED is terminal in both scopes: no entry leaves it. Locking an
// application preserves the underlying state under the lock bit.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		// Card scope (ISD).
		{ScopeCard, LifecycleOpReady, OpTerminate}:     LifecycleTerminated,
		{ScopeCard, LifecycleInitialized, OpTerminate}: LifecycleTerminated,
		{ScopeCard, LifecycleSecured, OpLock}:          LifecycleCardLocked,
		{ScopeCard, LifecycleSecured, OpTerminate}:     LifecycleTerminated,
		{ScopeCard, LifecycleCardLocked, OpUnlock}:     LifecycleSecured,
		{ScopeCard, LifecycleCardLocked, OpTerminate}:  LifecycleTerminated,

		// Application / subordinate SD scope.
		{ScopeApplication, LifecycleInstalled, OpMakeSelectable}: LifecycleSelectable,
		{ScopeApplication, LifecycleInstalled, OpTerminate}:      LifecycleTerminated,
		{ScopeApplication, LifecycleSelectable, OpLock}:          LifecycleSelectable | 0x80,
		{ScopeApplication, LifecycleSelectable, OpTerminate}:     LifecycleTerminated,
		{ScopeApplication, LifecyclePersonalized, OpLock}:        LifecyclePersonalized | 0x80,
		{ScopeApplication, LifecyclePersonalized, OpTerminate}:   LifecycleTerminated,
		{ScopeApplication, LifecycleSelectable | 0x80, OpUnlock}: LifecycleSelectable,
		{ScopeApplication, LifecycleSelectable | 0x80, OpTerminate}: LifecycleTerminated,
		{ScopeApplication, LifecyclePersonalized | 0x80, OpUnlock}:  LifecyclePersonalized,
		{ScopeApplication, LifecyclePersonalized | 0x80, OpTerminate}: LifecycleTerminated,
	}
}

// Target resolves a transition, reporting whether it is legal.
func (t TransitionTable) Target(scope Scope, from Lifecycle, op Operation) (Lifecycle, bool) {
	target, ok := t[Transition{Scope: scope, From: from, Op: op}]
	return target, ok
}
