package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

type fakeJob struct {
	id          string
	name        string
	script      string
	status      schedulerobjects.Status
	submittedAt time.Time
}

// Fake is an in-process scheduler for tests and dry runs. Jobs only progress when Step is called.
// Every Fake is independent; there is no shared state between instances.
type Fake struct {
	mu        sync.Mutex
	clock     clock.Clock
	jobs      map[string]*fakeJob
	order     []string
	submitErr error
	listErr   error
	delay     time.Duration
}

func NewFake(clock clock.Clock) *Fake {
	return &Fake{
		clock: clock,
		jobs:  map[string]*fakeJob{},
	}
}

func (f *Fake) Submit(ctx context.Context, script string, label string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.add(script, label, schedulerobjects.StatusSubmitted), nil
}

func (f *Fake) ListActiveJobs(ctx context.Context) ([]schedulerobjects.ClusterJob, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]schedulerobjects.ClusterJob, 0, len(f.order))
	for _, id := range f.order {
		job := f.jobs[id]
		result = append(result, schedulerobjects.ClusterJob{Id: job.id, Name: job.name, Status: job.status})
	}
	return result, nil
}

func (f *Fake) Cancel(ctx context.Context, externalId string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.WithStack(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[externalId]; !ok {
		return false, nil
	}
	f.remove(externalId)
	return true, nil
}

// Step moves every job one status forward. Jobs leaving Active are finished and no longer reported.
func (f *Fake) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range append([]string{}, f.order...) {
		job := f.jobs[id]
		if job.status >= schedulerobjects.StatusActive {
			f.remove(id)
		} else {
			job.status++
		}
	}
}

// SetStatus overrides the status of a job. Setting Inactive removes the job.
func (f *Fake) SetStatus(externalId string, status schedulerobjects.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[externalId]
	if !ok {
		return
	}
	if status.IsTerminal() {
		f.remove(externalId)
	} else {
		job.status = status
	}
}

// Inject adds a job this process did not submit, e.g. one left over from a previous run.
func (f *Fake) Inject(name string, status schedulerobjects.Status) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add("", name, status)
}

// Script returns the script submitted under externalId.
func (f *Fake) Script(externalId string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[externalId]
	if !ok {
		return "", false
	}
	return job.script, true
}

// FailSubmit makes subsequent submissions fail with err. A nil err restores normal behaviour.
func (f *Fake) FailSubmit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// FailList makes subsequent status queries fail with err. A nil err restores normal behaviour.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SetDelay makes every submit and status query take d, or until the context is done.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay <= 0 {
		return errors.WithStack(ctx.Err())
	}
	timer := f.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C():
		return nil
	}
}

func (f *Fake) add(script string, name string, status schedulerobjects.Status) string {
	id := uuid.NewString()
	f.jobs[id] = &fakeJob{id: id, name: name, script: script, status: status, submittedAt: f.clock.Now()}
	f.order = append(f.order, id)
	return id
}

func (f *Fake) remove(id string) {
	delete(f.jobs, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
