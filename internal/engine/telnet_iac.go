package engine

import "github.com/consolemux/consolemux/internal/object"

// Telnet protocol constants (RFC 854).
const (
	iacSE   byte = 240
	iacSB   byte = 250
	iacWILL byte = 251
	iacWONT byte = 252
	iacDO   byte = 253
	iacDONT byte = 254
	iacIAC  byte = 255
)

type iacPhase int

const (
	phaseData iacPhase = iota
	phaseGotIAC
	phaseGotCommand // saw DO/DONT/WILL/WONT, waiting for the option byte
	phaseSubneg     // inside IAC SB ... IAC SE
	phaseSubnegIAC
)

// iacFilterState is the option-negotiation sub-state of a Telnet object,
// stored in object.TelnetAux.IACState.
type iacFilterState struct {
	phase   iacPhase
	pending byte // DO/DONT/WILL/WONT awaiting its option byte
}

// FilterTelnetIAC strips and responds to telnet option negotiation
// in-band, returning the remaining application data byte-for-byte in
// order: negotiation is stripped and answered first, the underlying
// data stream is otherwise preserved untouched. Responses to option
// offers (always a refusal: WONT/DONT, since this
// daemon only tails console byte streams and has no client escape
// wiring to negotiate) are enqueued directly into the telnet object's own
// output buffer, to be written back on the same connection.
func FilterTelnetIAC(obj *object.Object) func([]byte) []byte {
	aux, ok := obj.Aux.(*object.TelnetAux)
	if !ok {
		return func(b []byte) []byte { return b }
	}
	st, ok := aux.IACState.(*iacFilterState)
	if !ok {
		st = &iacFilterState{}
		aux.IACState = st
	}

	return func(in []byte) []byte {
		out := make([]byte, 0, len(in))
		for _, b := range in {
			switch st.phase {
			case phaseData:
				if b == iacIAC {
					st.phase = phaseGotIAC
				} else {
					out = append(out, b)
				}
			case phaseGotIAC:
				switch b {
				case iacIAC:
					out = append(out, iacIAC) // escaped 0xFF byte in the data stream
					st.phase = phaseData
				case iacSB:
					st.phase = phaseSubneg
				case iacDO, iacDONT, iacWILL, iacWONT:
					st.pending = b
					st.phase = phaseGotCommand
				default:
					// single-byte command (NOP, AYT, ...): consume and ignore
					st.phase = phaseData
				}
			case phaseGotCommand:
				respondTo(obj.Out, st.pending, b)
				st.phase = phaseData
			case phaseSubneg:
				if b == iacIAC {
					st.phase = phaseSubnegIAC
				}
			case phaseSubnegIAC:
				if b == iacSE {
					st.phase = phaseData
				} else {
					st.phase = phaseSubneg
				}
			}
		}
		return out
	}
}

func respondTo(out outBuf, cmd, option byte) {
	var reply byte
	switch cmd {
	case iacDO:
		reply = iacWONT
	case iacWILL:
		reply = iacDONT
	default:
		// DONT/WONT from the peer need no reply
		return
	}
	out.Enqueue([]byte{iacIAC, reply, option})
}

// outBuf is the minimal surface FilterTelnetIAC needs from
// object.Object.Out, named separately so this file stays decoupled from
// ringbuf's full API.
type outBuf interface {
	Enqueue(p []byte) int
}
