// Package hooks notifies external observers when an operation instance leaves the cluster scheduler.
package hooks

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/logging"
)

// Event describes an operation instance that reached Inactive.
type Event struct {
	Operation   string    `json:"operation"`
	AggregateId string    `json:"aggregateId"`
	JobIds      []string  `json:"jobIds,omitempty"`
	Label       string    `json:"label,omitempty"`
	ExternalId  string    `json:"externalId,omitempty"`
	FinishedAt  time.Time `json:"finishedAt"`
	// Set when the post-conditions of the operation still do not hold.
	Err error `json:"-"`
}

// Hook is called once per finished instance. Errors are logged and never affect eligibility.
type Hook interface {
	OnFinish(ctx context.Context, event Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, event Event) error

func (f HookFunc) OnFinish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LoggingHook logs every finished instance.
type LoggingHook struct {
	logger *log.Entry
}

func NewLoggingHook() *LoggingHook {
	return &LoggingHook{logger: logging.ForComponent("hooks")}
}

func (h *LoggingHook) OnFinish(_ context.Context, event Event) error {
	entry := h.logger.WithFields(log.Fields{
		logging.OperationField:  event.Operation,
		logging.AggregateField:  event.AggregateId,
		logging.LabelField:      event.Label,
		logging.ExternalIdField: event.ExternalId,
	})
	if event.Err != nil {
		entry.WithError(event.Err).Warn("operation finished without meeting its post-conditions")
	} else {
		entry.Info("operation finished")
	}
	return nil
}

// AuditHook appends one JSON object per finished instance to a writer, e.g. an audit file in the workspace.
type AuditHook struct {
	mu  sync.Mutex
	out io.Writer
}

func NewAuditHook(out io.Writer) *AuditHook {
	return &AuditHook{out: out}
}

type auditEntry struct {
	Event
	Error string `json:"error,omitempty"`
}

func (h *AuditHook) OnFinish(_ context.Context, event Event) error {
	entry := auditEntry{Event: event}
	if event.Err != nil {
		entry.Error = event.Err.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(data, '\n'))
	return errors.WithStack(err)
}
