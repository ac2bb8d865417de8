package scp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/veenone/ccm-tool/pkg/iso7816"
	"github.com/veenone/ccm-tool/pkg/tlv"
)

func TestNewSessionValidation(t *testing.T) {
	t.Run("bad key length", func(t *testing.T) {
		ks := testKeysetSCP03()
		ks.ENC = ks.ENC[:10]
		if _, err := NewSession(ks, LevelMAC); !errors.Is(err, ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("mismatched SCP03 key lengths", func(t *testing.T) {
		ks := testKeysetSCP03()
		ks.MAC = make([]byte, 32)
		if _, err := NewSession(ks, LevelMAC); !errors.Is(err, ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("unknown protocol", func(t *testing.T) {
		ks := testKeysetSCP03()
		ks.Protocol = Protocol(0x01)
		if _, err := NewSession(ks, LevelMAC); !errors.Is(err, ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("level out of range", func(t *testing.T) {
		if _, err := NewSession(testKeysetSCP03(), SecurityLevel(9)); err == nil {
			t.Error("expected an error for level 9")
		}
	})
}

func TestSessionStateMachine(t *testing.T) {
	cmd := iso7816.NewCommandAPDU(iso7816.ClaGP, 0xF2, 0x80, 0x02, tlv.Hex("4F00"), 256)

	t.Run("wrap before authentication", func(t *testing.T) {
		s, err := NewSession(testKeysetSCP03(), LevelMAC)
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		if s.State() != StateIdle {
			t.Fatalf("fresh session state = %s", s.State())
		}
		if _, err := s.Wrap(cmd); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Wrap in Idle: expected ErrInvalidState, got %v", err)
		}
		if _, err := s.Unwrap(&iso7816.ResponseAPDU{Status: iso7816.SWNoError}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Unwrap in Idle: expected ErrInvalidState, got %v", err)
		}
		if _, err := s.WrapKey(tlv.Hex("00")); !errors.Is(err, ErrInvalidState) {
			t.Errorf("WrapKey in Idle: expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("double initiate", func(t *testing.T) {
		s, _ := NewSession(testKeysetSCP03(), LevelMAC)
		if _, err := s.Initiate(); err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if _, err := s.Initiate(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("second Initiate: expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("authenticate before initiate", func(t *testing.T) {
		s, _ := NewSession(testKeysetSCP03(), LevelMAC)
		if _, err := s.Authenticate(nil); !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("initialize update before initiate", func(t *testing.T) {
		s, _ := NewSession(testKeysetSCP03(), LevelMAC)
		if _, err := s.InitializeUpdate(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s, _ := establishSCP03(t, LevelMAC)
		s.Close()
		if s.State() != StateClosed {
			t.Fatalf("state = %s after Close", s.State())
		}
		s.Close()
		if s.State() != StateClosed {
			t.Fatalf("state = %s after second Close", s.State())
		}
		if _, err := s.Wrap(cmd); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Wrap after Close: expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("close does not mask failure", func(t *testing.T) {
		s, _ := NewSession(testKeysetSCP03(), LevelMAC)
		s.Fail()
		s.Close()
		if s.State() != StateFailed {
			t.Errorf("state = %s, want Failed to stick", s.State())
		}
	})
}

func TestSessionBusy(t *testing.T) {
	s, card := establishSCP03(t, LevelMAC)
	cmd := iso7816.NewCommandAPDU(iso7816.ClaGP, 0xF2, 0x40, 0x02, tlv.Hex("4F00"), 256)

	wrapped, err := s.Wrap(cmd)
	if err != nil {
		t.Fatalf("first Wrap failed: %v", err)
	}
	if _, err := s.Wrap(cmd); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Wrap: expected ErrSessionBusy, got %v", err)
	}

	card.receive(t, wrapped, LevelMAC)
	if _, err := s.Unwrap(&iso7816.ResponseAPDU{Status: iso7816.SWNoError}); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}

	// The exchange completed, the session accepts the next command.
	if _, err := s.Wrap(cmd); err != nil {
		t.Errorf("Wrap after Unwrap failed: %v", err)
	}
}

func TestUnwrapWithoutExchange(t *testing.T) {
	s, _ := establishSCP03(t, LevelMAC)
	if _, err := s.Unwrap(&iso7816.ResponseAPDU{Status: iso7816.SWNoError}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEstablishAgainstSimulatedCard(t *testing.T) {
	card := newSCP03Card(testKeysetSCP03(), tlv.Hex("A0A1A2A3A4A5A6A7"))
	client := &iso7816.Client{Card: &scp03CardTransport{t: t, card: card}}

	s, err := Establish(client, testKeysetSCP03(), LevelMAC)
	if err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %s after Establish", s.State())
	}
}

func TestEstablishTransportFailure(t *testing.T) {
	client := &iso7816.Client{Card: &failingTransport{}}

	_, err := Establish(client, testKeysetSCP03(), LevelMAC)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TransportError, got %v", err)
	}
}

func TestEstablishCardRefusal(t *testing.T) {
	client := &iso7816.Client{Card: &refusingTransport{}}

	_, err := Establish(client, testKeysetSCP03(), LevelMAC)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected a StatusError, got %v", err)
	}
	if se.Step != "INITIALIZE UPDATE" || se.SW != 0x6A88 {
		t.Errorf("StatusError = %+v", se)
	}
}

// scp03CardTransport exposes the simulated card as a raw transmitter,
// answering INITIALIZE UPDATE and EXTERNAL AUTHENTICATE.
type scp03CardTransport struct {
	t    *testing.T
	card *scp03Card

	hostChallenge []byte
}

func (tr *scp03CardTransport) Transmit(raw []byte) ([]byte, error) {
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return nil, err
	}
	switch cmd.Ins {
	case insInitializeUpdate:
		tr.hostChallenge = cmd.Data
		resp := tr.card.initUpdateResponse(tr.t, cmd.Data)
		return append(resp, 0x90, 0x00), nil
	case insExternalAuthenticate:
		tr.card.verifyExternalAuth(tr.t, cmd, tr.hostChallenge, LevelMAC)
		return []byte{0x90, 0x00}, nil
	default:
		return []byte{0x6D, 0x00}, nil
	}
}

type failingTransport struct{}

func (failingTransport) Transmit([]byte) ([]byte, error) {
	return nil, fmt.Errorf("reader removed")
}

type refusingTransport struct{}

func (refusingTransport) Transmit([]byte) ([]byte, error) {
	return []byte{0x6A, 0x88}, nil
}
