package engine

import (
	"fmt"

	"ccabid/auction"
)

// Phase is a stage of the bid lifecycle. Phases only move forward.
type Phase int

const (
	PhaseSubmit Phase = iota
	PhaseAwaitEnd
	PhaseExit
	PhaseAwaitClaim
	PhaseClaim
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmit:
		return "Submit"
	case PhaseAwaitEnd:
		return "AwaitEnd"
	case PhaseExit:
		return "Exit"
	case PhaseAwaitClaim:
		return "AwaitClaim"
	case PhaseClaim:
		return "Claim"
	case PhaseDone:
		return "Done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PhaseTracker holds the current phase and the window boundaries that gate
// transitions.
type PhaseTracker struct {
	current Phase
	window  auction.Window
}

func NewPhaseTracker(w auction.Window) *PhaseTracker {
	return &PhaseTracker{
		current: PhaseSubmit,
		window:  w,
	}
}

func (t *PhaseTracker) Phase() Phase {
	return t.current
}

func (t *PhaseTracker) Window() auction.Window {
	return t.window
}

// Advance moves to next if it is later than the current phase, and reports
// whether it did. Requests to stay or move backwards are ignored.
func (t *PhaseTracker) Advance(next Phase) bool {
	if next <= t.current || next > PhaseDone {
		return false
	}
	t.current = next
	return true
}
