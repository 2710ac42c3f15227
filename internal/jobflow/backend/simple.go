package backend

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// Status codes reported by `<command> status --json`.
const (
	simpleUnknown    = 1
	simpleRegistered = 2
	simpleInactive   = 3
	simpleSubmitted  = 4
	simpleHeld       = 5
	simpleQueued     = 6
	simpleActive     = 7
	simpleError      = 8
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return out, nil
}

// Simple drives a scheduler through an external command:
//
//	<command> submit <script file>   prints the id of the new job
//	<command> status --json          prints {"<id>": {"job_name": "...", "status": <code>}, ...}
//	<command> cancel <id>
type Simple struct {
	command   []string
	scriptDir string
	run       CommandRunner
}

// NewSimple returns a backend invoking command, which may contain arguments, e.g. "python scheduler.py".
// Scripts are written to scriptDir, or the system temp dir when empty.
func NewSimple(command string, scriptDir string) (*Simple, error) {
	return NewSimpleWithRunner(command, scriptDir, execRunner)
}

func NewSimpleWithRunner(command string, scriptDir string, run CommandRunner) (*Simple, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "scheduler.command", Value: command, Message: "must not be empty"})
	}
	if scriptDir != "" {
		if err := os.MkdirAll(scriptDir, 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &Simple{command: fields, scriptDir: scriptDir, run: run}, nil
}

func (s *Simple) Submit(ctx context.Context, script string, label string) (string, error) {
	f, err := os.CreateTemp(s.scriptDir, label+"-*.sh")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer func() {
		if err := os.Remove(f.Name()); err != nil {
			log.WithError(err).Warnf("failed to remove script %s", f.Name())
		}
	}()
	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		return "", errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return "", errors.WithStack(err)
	}

	out, err := s.invoke(ctx, "submit", f.Name())
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		// Schedulers that do not print an id are tracked by job name.
		id = label
	}
	return id, nil
}

type simpleStatus struct {
	JobName string `json:"job_name"`
	Status  int    `json:"status"`
}

func (s *Simple) ListActiveJobs(ctx context.Context) ([]schedulerobjects.ClusterJob, error) {
	out, err := s.invoke(ctx, "status", "--json")
	if err != nil {
		return nil, err
	}
	var statuses map[string]simpleStatus
	if err := json.Unmarshal(out, &statuses); err != nil {
		return nil, errors.Wrap(err, "parsing scheduler status")
	}
	result := make([]schedulerobjects.ClusterJob, 0, len(statuses))
	for id, doc := range statuses {
		status, err := fromSimpleStatus(doc.Status)
		if err != nil {
			return nil, errors.WithMessagef(err, "job %s", id)
		}
		result = append(result, schedulerobjects.ClusterJob{Id: id, Name: doc.JobName, Status: status})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result, nil
}

func (s *Simple) Cancel(ctx context.Context, externalId string) (bool, error) {
	if _, err := s.invoke(ctx, "cancel", externalId); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.WithError(err).Debugf("scheduler refused to cancel %s", externalId)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Simple) invoke(ctx context.Context, args ...string) ([]byte, error) {
	return s.run(ctx, s.command[0], append(append([]string{}, s.command[1:]...), args...)...)
}

// fromSimpleStatus maps the scheduler's codes onto the tracked lifecycle: registered and held jobs count as
// submitted, errored jobs as finished.
func fromSimpleStatus(code int) (schedulerobjects.Status, error) {
	switch code {
	case simpleUnknown:
		return schedulerobjects.StatusUnknown, nil
	case simpleRegistered, simpleSubmitted, simpleHeld:
		return schedulerobjects.StatusSubmitted, nil
	case simpleQueued:
		return schedulerobjects.StatusQueued, nil
	case simpleActive:
		return schedulerobjects.StatusActive, nil
	case simpleInactive, simpleError:
		return schedulerobjects.StatusInactive, nil
	}
	return schedulerobjects.StatusUnknown, errors.Errorf("unknown scheduler status code %d", code)
}
