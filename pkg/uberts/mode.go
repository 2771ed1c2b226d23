package uberts

import (
	"fmt"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

// Mode selects how Decode treats candidates.
type Mode int

const (
	// ModeGreedy commits the best feasible candidate each step.
	ModeGreedy Mode = iota
	// ModeTrain decodes greedily and reports a learning signal per decision.
	ModeTrain
	// ModeOracle commits only gold candidates of supervised relations.
	ModeOracle
	// ModeExhaustive commits every feasible candidate, ignoring the
	// threshold, and reports learning signals.
	ModeExhaustive
)

var modeNames = []string{"greedy", "train", "oracle", "exhaustive"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode reads a mode name.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q: %w", s, internalerr.ErrInvalidInput)
}

// Outcome is the state of a decode run.
type Outcome int

const (
	Running Outcome = iota
	Done
	BudgetExceeded
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Done:
		return "done"
	case BudgetExceeded:
		return "budget_exceeded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
