package logging

import "github.com/sirupsen/logrus"

// Field names shared by every jobflow component so log lines can be correlated across the
// resolver, bundler and tracker.
const (
	ComponentField   = "component"
	OperationField   = "operation"
	AggregateField   = "aggregate"
	FingerprintField = "fingerprint"
	ExternalIdField  = "externalId"
	LabelField       = "label"
)

// ForComponent returns an entry of the standard logger tagged with the component name.
func ForComponent(name string) *logrus.Entry {
	return logrus.WithField(ComponentField, name)
}

// WithInstance adds the identity of an (operation, aggregate) pair to the entry.
func WithInstance(logger *logrus.Entry, operation string, aggregate string, fingerprint string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		OperationField:   operation,
		AggregateField:   aggregate,
		FingerprintField: fingerprint,
	})
}
