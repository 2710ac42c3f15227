package eligibility

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// State is the eligibility of one (operation, aggregate) pair.
type State int

const (
	NotEligible State = iota
	Eligible
	Submitted
	Queued
	Active
	Inactive
)

var stateNames = []string{"not-eligible", "eligible", "submitted", "queued", "active", "inactive"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown eligibility state %q", text)
}

// Tracked returns true for the states of a pair with a live submission record.
func (s State) Tracked() bool {
	return s >= Submitted && s <= Active
}

// FromStatus maps the status of a live submission record to a state. A reservation that the scheduler has not yet
// accepted counts as submitted.
func FromStatus(status schedulerobjects.Status) State {
	switch status {
	case schedulerobjects.StatusQueued:
		return Queued
	case schedulerobjects.StatusActive:
		return Active
	case schedulerobjects.StatusInactive:
		return Inactive
	default:
		return Submitted
	}
}
