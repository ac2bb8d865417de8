package iso7816

// TRANSACTION:
// A Transaction is the atomic unit of ISO 7816-3 communication: one command
// APDU followed by one response APDU.
//
// TRACE:
// A Trace is the chronological sequence of transactions performed for one
// logical operation. A single intent (e.g. GET STATUS) may need several
// physical exchanges because of 61XX/6CXX transport behavior; the trace
// keeps the whole conversation, and IsSuccess() judges the final outcome.

// Transaction represents a completed command-response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of command-response pairs.
type Trace []Transaction

// Last returns the final transaction of the trace, or nil when empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Status returns the status word of the final transaction (0 when empty).
func (t Trace) Status() StatusWord {
	last := t.Last()
	if last == nil || last.Response == nil {
		return 0
	}
	return last.Response.Status
}

// Data returns the accumulated response data of the trace. GET RESPONSE
// continuations deliver their payload across transactions, so the logical
// response is the concatenation in order.
func (t Trace) Data() []byte {
	var out []byte
	for _, tx := range t {
		if tx.Response != nil {
			out = append(out, tx.Response.Data...)
		}
	}
	return out
}

// IsSuccess checks if the FINAL transaction in the trace was successful,
// regardless of intermediate 61XX warnings.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}
