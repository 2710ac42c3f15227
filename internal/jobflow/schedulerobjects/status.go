package schedulerobjects

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
)

// Status is the scheduler state of a submission. Statuses are totally ordered and a tracked submission
// only ever moves forward: Unknown < Submitted < Queued < Active < Inactive.
type Status int

const (
	StatusUnknown Status = iota
	StatusSubmitted
	StatusQueued
	StatusActive
	StatusInactive
)

var statusNames = []string{"unknown", "submitted", "queued", "active", "inactive"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// IsTerminal returns true for Inactive, which evicts the submission record.
func (s Status) IsTerminal() bool {
	return s == StatusInactive
}

// Less reports whether s comes strictly before other in the lifecycle.
func (s Status) Less(other Status) bool {
	return s < other
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, v := range statusNames {
		if v == name {
			*s = Status(i)
			return nil
		}
	}
	return errors.WithStack(&flowerrors.ErrConfiguration{
		Name:    "status",
		Value:   string(text),
		Message: "must be one of " + strings.Join(statusNames, ", "),
	})
}
