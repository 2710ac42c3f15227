// Package flowerrors contains the error types returned by the jobflow core.
//
// Errors are returned wrapped with github.com/pkg/errors, so callers should use errors.As to look through the
// chain rather than type-asserting the topmost error. If multiple errors occur in some function (e.g., several
// bundles fail to submit), that function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package flowerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrConfiguration is returned when an aggregation policy, operation or config entry is invalid.
// Message is optional and is omitted from the error message if not provided.
type ErrConfiguration struct {
	Name    string      // Name of the parameter referred to, e.g., "groupsof"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrConfiguration) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for parameter %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for parameter %q; %s", err.Value, err.Name, err.Message)
}

// ErrKeyLookup is returned when a state point field required by a sort or group key is missing from a job.
type ErrKeyLookup struct {
	Key string
	Job string
}

func (err *ErrKeyLookup) Error() string {
	return fmt.Sprintf("the key %q was not found in the state point of job %s", err.Key, err.Job)
}

// ErrDuplicateName is returned whenever a named resource is registered twice.
// Type is optional and is omitted from the error message if not provided.
type ErrDuplicateName struct {
	Type  string // Resource type, e.g., "operation" or "label"
	Value string // Resource name
}

func (err *ErrDuplicateName) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("%s %q is already registered", err.Type, err.Value)
	}
	return fmt.Sprintf("%q is already registered", err.Value)
}

// ErrEvaluation is returned when a predicate fails or panics while being evaluated against a job or aggregate.
type ErrEvaluation struct {
	Predicate string
	Target    string
	Err       error
}

func (err *ErrEvaluation) Error() string {
	return fmt.Sprintf("evaluating predicate %q on %s: %v", err.Predicate, err.Target, err.Err)
}

func (err *ErrEvaluation) Unwrap() error {
	return err.Err
}

func (err *ErrEvaluation) Cause() error {
	return err.Err
}

// ErrSubmission is returned when the scheduler backend rejects a bundle or times out while submitting it.
// Operations and Aggregates identify every instance in the bundle so the caller can isolate the affected jobs.
type ErrSubmission struct {
	Label      string
	Operations []string
	Aggregates []string
	Err        error
}

func (err *ErrSubmission) Error() string {
	instances := make([]string, len(err.Operations))
	for i := range err.Operations {
		instances[i] = err.Operations[i] + "(" + err.Aggregates[i] + ")"
	}
	return fmt.Sprintf("submitting bundle %s [%s]: %v", err.Label, strings.Join(instances, ", "), err.Err)
}

func (err *ErrSubmission) Unwrap() error {
	return err.Err
}

func (err *ErrSubmission) Cause() error {
	return err.Err
}

// ErrStatusRefresh is returned when the scheduler backend could not be queried for status.
// Tracked state is left unchanged and the refresh may be retried.
type ErrStatusRefresh struct {
	Err error
}

func (err *ErrStatusRefresh) Error() string {
	return fmt.Sprintf("refreshing cluster status: %v", err.Err)
}

func (err *ErrStatusRefresh) Unwrap() error {
	return err.Err
}

func (err *ErrStatusRefresh) Cause() error {
	return err.Err
}

// Anomaly describes a non-monotonic status reported by the backend. It is logged, never returned as fatal.
type Anomaly struct {
	Fingerprint string
	ExternalId  string
	Current     string
	Reported    string
}

func (a *Anomaly) Error() string {
	return fmt.Sprintf(
		"backend reported status %s for %s (external id %s) which already has status %s; keeping %s",
		a.Reported, a.Fingerprint, a.ExternalId, a.Current, a.Current,
	)
}

// IsRetryable returns true if err is a failure that may succeed on a later, explicit call.
// Configuration and lookup errors are not retryable since repeating the call gives the same result.
func IsRetryable(err error) bool {
	{
		var e *ErrSubmission
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrStatusRefresh
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
