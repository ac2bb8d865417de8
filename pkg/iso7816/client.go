package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client is a high-level driver over the physical connection. It absorbs
// the ISO 7816-3 transport behaviors that T=0 cards expose to the
// application layer:
//
// 1. "61 XX" (Response Available): the card holds XX bytes; the client
//    automatically issues GET RESPONSE to fetch them.
// 2. "6C XX" (Wrong Length): the card suggests Le=XX; the client re-sends
//    the original command with the corrected Le.
//
// Send() returns a Trace: the full list of atomic transactions performed to
// fulfill the logical request.

// Class byte values used across the GlobalPlatform command set.
const (
	// ClaISO is the first interindustry class.
	ClaISO byte = 0x00
	// ClaGP is the proprietary GlobalPlatform class.
	ClaGP byte = 0x80
	// ClaGPSecure is ClaGP with the secure messaging indicator set.
	ClaGPSecure byte = 0x84

	// InsGetResponse retrieves pending response bytes (T=0).
	InsGetResponse byte = 0xC0
)

// Transmitter abstracts the physical card connection. Implementations are
// expected to block with a caller-owned timeout; the client performs no
// retries of its own.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter

	// ExtendedLength is set once the card has advertised extended APDU
	// support. Until then, commands that do not fit the short form fail
	// with ErrUnsupportedLength.
	ExtendedLength bool
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles transport-level protocol logic
// (61XX, 6CXX). Transport failures are wrapped so callers can distinguish
// them from card-reported statuses.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	rawCmd, err := cmd.Encode(c.ExtendedLength)
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	// Case 61XX: more data available, issue GET RESPONSE on the same
	// logical channel.
	if sw1 == 0x61 {
		getResp := NewCommandAPDU(cmd.Cla&0x03, InsGetResponse, 0x00, 0x00, nil, int(sw2))

		subTrace, err := c.Send(getResp)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil
	}

	// Case 6CXX: wrong length, re-issue with the Le the card suggested.
	if sw1 == 0x6C {
		newCmd := *cmd
		newCmd.Ne = int(sw2)

		subTrace, err := c.Send(&newCmd)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil
	}

	return trace, nil
}
