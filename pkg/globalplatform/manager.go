package globalplatform

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/veenone/ccm-tool/pkg/iso7816"
	"github.com/veenone/ccm-tool/pkg/scp"
	"github.com/veenone/ccm-tool/pkg/tlv"
)

// Manager drives the content management command set against one card. It
// routes commands through the secure channel session once one is
// established, keeps a registry of the objects it has observed, and checks
// lifecycle and extradition legality locally before spending a round trip
// on a request the card is bound to refuse.
//
// A Manager mirrors its session's concurrency contract: one in-flight
// exchange at a time, independent Managers on separate readers may run in
// parallel.
type Manager struct {
	client  *iso7816.Client
	session *scp.Session

	// Transitions is the lifecycle legality table consulted before every
	// CLFDB call. Replace it to match a different card profile.
	Transitions TransitionTable

	isdAID   AID
	registry *Registry
}

// NewManager creates a Manager over an ISO 7816 client.
func NewManager(client *iso7816.Client) *Manager {
	return &Manager{
		client:      client,
		Transitions: DefaultTransitions(),
		isdAID:      ISD,
		registry:    NewRegistry(),
	}
}

// Registry returns the host-side model of the card content observed so far.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Session returns the active secure channel session, or nil.
func (m *Manager) Session() *scp.Session {
	return m.session
}

// SelectCardManager selects the issuer security domain and parses its FCI.
// When the FCI advertises extended length support, the client is switched
// over. Fails with ErrCardManagerNotFound when the ISD AID is not present.
func (m *Manager) SelectCardManager() (*FCI, error) {
	fci, err := m.Select(m.isdAID)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCardManagerNotFound, m.isdAID)
		}
		return nil, err
	}
	if fci.SupportsExtendedLength() {
		m.client.ExtendedLength = true
	}
	return fci, nil
}

// Select selects an application by AID, in clear. Selection resets the
// card's security state, so any active secure channel session is closed.
func (m *Manager) Select(aid AID) (*FCI, error) {
	if err := aid.Validate(); err != nil {
		return nil, err
	}
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}

	data, sw, err := m.transmit(selectCommand(aid))
	if err != nil {
		return nil, err
	}
	if err := checkStatus("SELECT", sw); err != nil {
		return nil, err
	}
	return ParseFCI(data)
}

// EstablishSecureChannel authenticates the keyset against the currently
// selected security domain. Subsequent commands are wrapped at the
// session's security level.
func (m *Manager) EstablishSecureChannel(ks scp.Keyset, level scp.SecurityLevel) error {
	s, err := scp.Establish(m.client, ks, level)
	if err != nil {
		return err
	}
	m.session = s
	return nil
}

// CloseSecureChannel drops the session. Following commands go in clear.
func (m *Manager) CloseSecureChannel() {
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
}

// Objects enumerates one registry class lazily: GET STATUS pages are
// fetched on demand, following SW 6310 continuations, and every healthy
// object is recorded in the registry. A template with an out-of-range AID
// yields an error for that object and the enumeration continues; a
// truncated buffer or card refusal ends it.
func (m *Manager) Objects(class Class) iter.Seq2[CardObject, error] {
	return m.objects(class, nil)
}

func (m *Manager) objects(class Class, filter AID) iter.Seq2[CardObject, error] {
	return func(yield func(CardObject, error) bool) {
		next := false
		for {
			data, sw, err := m.send("GET STATUS", getStatusCommand(class, filter, next))
			if err != nil {
				yield(CardObject{}, err)
				return
			}
			if !sw.IsSuccess() && !sw.IsMoreData() {
				yield(CardObject{}, checkStatus("GET STATUS", sw))
				return
			}

			if !m.yieldPage(data, yield) {
				return
			}
			if !sw.IsMoreData() {
				return
			}
			next = true
		}
	}
}

// yieldPage parses one GET STATUS response page of E3 templates.
func (m *Manager) yieldPage(data []byte, yield func(CardObject, error) bool) bool {
	for rec, err := range tlv.Records(data) {
		if err != nil {
			return yield(CardObject{}, err)
		}
		if rec.Tag != tagStatusTemplate {
			continue
		}
		obj, err := parseStatusTemplate(rec.Value, m.isdAID)
		if err != nil {
			// Defective template: report it, keep enumerating.
			if !yield(CardObject{}, err) {
				return false
			}
			continue
		}
		m.registry.Put(obj)
		if !yield(obj, nil) {
			return false
		}
	}
	return true
}

// ListSecurityDomains enumerates the ISD and every subordinate security
// domain eagerly.
func (m *Manager) ListSecurityDomains() ([]CardObject, error) {
	var out []CardObject
	for _, class := range []Class{ClassISD, ClassAppsAndSD} {
		for obj, err := range m.Objects(class) {
			if err != nil {
				return out, err
			}
			if obj.Kind.IsSecurityDomain() {
				out = append(out, obj)
			}
		}
	}
	return out, nil
}

// ListApplications enumerates installed applications eagerly.
func (m *Manager) ListApplications() ([]CardObject, error) {
	var out []CardObject
	for obj, err := range m.Objects(ClassAppsAndSD) {
		if err != nil {
			return out, err
		}
		if obj.Kind == KindApplication {
			out = append(out, obj)
		}
	}
	return out, nil
}

// CreateSecurityDomain installs a new subordinate security domain from
// card-resident code and makes it selectable. Privileges default to the
// kind's template when nil.
func (m *Manager) CreateSecurityDomain(aid AID, kind Kind, privileges Privileges) error {
	if err := aid.Validate(); err != nil {
		return err
	}
	if !kind.IsSecurityDomain() || kind == KindISD {
		return fmt.Errorf("globalplatform: cannot create a %s", kind)
	}
	if privileges == nil {
		privileges = DefaultPrivileges(kind)
	}

	_, sw, err := m.send("INSTALL", installCommand(aid, privileges))
	if err != nil {
		return err
	}
	if err := checkStatus("INSTALL", sw); err != nil {
		return err
	}

	m.registry.Put(CardObject{
		AID:        aid,
		Kind:       kind,
		Lifecycle:  LifecycleSelectable,
		Privileges: privileges,
	})
	slog.Debug("security domain created", "aid", aid.String(), "kind", kind.String())
	return nil
}

// CLFDB performs a card lifecycle operation on an object. The transition is
// validated against the table first: an illegal request fails locally with
// ErrIllegalLifecycleTransition and no transport call.
func (m *Manager) CLFDB(aid AID, op Operation) error {
	if err := aid.Validate(); err != nil {
		return err
	}
	obj, err := m.findObject(aid)
	if err != nil {
		return err
	}

	scope := obj.Kind.scope()
	target, ok := m.Transitions.Target(scope, obj.Lifecycle, op)
	if !ok {
		return fmt.Errorf("%w: %s on %s in %s", ErrIllegalLifecycleTransition,
			op, aid, obj.Lifecycle.Describe(scope))
	}

	p1 := setStatusApplication
	if obj.Kind == KindISD {
		p1 = setStatusISD
	}
	_, sw, err := m.send("SET STATUS", setStatusCommand(p1, target, aid))
	if err != nil {
		return err
	}
	if err := checkStatus("SET STATUS", sw); err != nil {
		return err
	}

	m.registry.SetLifecycle(aid, target)
	slog.Debug("lifecycle changed", "aid", aid.String(), "op", op.String(),
		"state", target.Describe(scope))
	return nil
}

// Extradite moves an object under a new security domain. The target is
// checked locally first: it must be a known security domain carrying the
// security domain privilege, else the call fails with
// ErrExtraditionNotPermitted before any transport call.
func (m *Manager) Extradite(object, targetSD AID) error {
	if err := object.Validate(); err != nil {
		return err
	}
	if err := targetSD.Validate(); err != nil {
		return err
	}

	sd, err := m.findObject(targetSD)
	if err != nil {
		return err
	}
	if !sd.Kind.IsSecurityDomain() || !sd.Privileges.Has(PrivSecurityDomain) {
		return fmt.Errorf("%w: %s is not a security domain", ErrExtraditionNotPermitted, targetSD)
	}

	_, sw, err := m.send("SET STATUS [association]", extraditionCommand(object, targetSD))
	if err != nil {
		return err
	}
	if err := checkStatus("SET STATUS [association]", sw); err != nil {
		return err
	}

	m.registry.Associate(object, targetSD)
	slog.Debug("object extradited", "aid", object.String(), "sd", targetSD.String())
	return nil
}

// StoreData pushes a data payload to the selected security domain in
// numbered STORE DATA blocks.
func (m *Manager) StoreData(data []byte) error {
	// Keeps the wrapped command inside the short form at every level.
	const blockSize = 231

	for block := 0; ; block++ {
		start := block * blockSize
		end := min(start+blockSize, len(data))
		last := end == len(data)

		_, sw, err := m.send("STORE DATA", storeDataCommand(byte(block), last, data[start:end]))
		if err != nil {
			return err
		}
		if err := checkStatus("STORE DATA", sw); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// GetData reads a card data object by its two-byte tag.
func (m *Manager) GetData(tag uint16) ([]byte, error) {
	data, sw, err := m.send("GET DATA", getDataCommand(tag))
	if err != nil {
		return nil, err
	}
	if err := checkStatus("GET DATA", sw); err != nil {
		return nil, err
	}
	return data, nil
}

// findObject resolves an AID to its registry entry, querying the card with
// an AID filter when the object has not been observed yet.
func (m *Manager) findObject(aid AID) (CardObject, error) {
	if obj, ok := m.registry.Get(aid); ok {
		return obj, nil
	}

	for _, class := range []Class{ClassISD, ClassAppsAndSD} {
		for obj, err := range m.objects(class, aid) {
			if err != nil {
				if errors.Is(err, ErrObjectNotFound) {
					break
				}
				return CardObject{}, err
			}
			if obj.AID.Equal(aid) {
				return obj, nil
			}
		}
	}
	return CardObject{}, fmt.Errorf("%w: %s", ErrObjectNotFound, aid)
}

// send routes a command through the session when one is authenticated, in
// clear otherwise. Transport failures poison the session.
func (m *Manager) send(operation string, cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord, error) {
	out := cmd
	wrapped := false
	if m.session != nil && m.session.State() == scp.StateAuthenticated {
		w, err := m.session.Wrap(cmd)
		if err != nil {
			return nil, 0, fmt.Errorf("globalplatform: %s: %w", operation, err)
		}
		out = w
		wrapped = true
	}

	data, sw, err := m.transmit(out)
	if err != nil {
		return nil, 0, fmt.Errorf("globalplatform: %s: %w", operation, err)
	}

	if wrapped {
		resp, err := m.session.Unwrap(&iso7816.ResponseAPDU{Data: data, Status: sw})
		if err != nil {
			return nil, 0, fmt.Errorf("globalplatform: %s: %w", operation, err)
		}
		data, sw = resp.Data, resp.Status
	}
	return data, sw, nil
}

// transmit performs one clear exchange, failing the session on transport
// errors since a MAC chain cannot survive a lost frame.
func (m *Manager) transmit(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord, error) {
	trace, err := m.client.Send(cmd)
	if err != nil {
		if m.session != nil {
			m.session.Fail()
		}
		return nil, 0, &scp.TransportError{Err: err}
	}
	return trace.Data(), trace.Status(), nil
}
