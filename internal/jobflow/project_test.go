package jobflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/jobflow/internal/jobflow/backend"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
	"github.com/armadaproject/jobflow/internal/jobflow/configuration"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

func writeJob(t *testing.T, root string, id string, statePoint string, document string) {
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, jobs.StatePointFile), []byte(statePoint), 0o644))
	if document != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, jobs.DocumentFile), []byte(document), 0o644))
	}
}

func testConfig(root string) configuration.JobflowConfiguration {
	return configuration.JobflowConfiguration{
		Project: "test",
		Workspace: configuration.WorkspaceConfig{
			Root:                root,
			StatePointCacheSize: 16,
		},
		Catalog: configuration.CatalogConfig{
			Labels: []configuration.LabelConfig{
				{Name: "computed", Condition: configuration.ConditionConfig{Kind: condition.DocumentKind, Key: "done"}},
			},
			Operations: []configuration.OperationConfig{
				{
					Name:    "compute",
					Command: "compute {{ .AggregateId }}",
					Post:    []configuration.ConditionConfig{{Kind: condition.DocumentKind, Key: "done"}},
				},
				{
					Name:    "analyze",
					Command: "analyze {{ .AggregateId }}",
					After:   []string{"compute"},
					Post:    []configuration.ConditionConfig{{Kind: condition.DocumentKind, Key: "analyzed"}},
				},
			},
		},
		Scheduler: configuration.SchedulerConfig{
			Type:           "fake",
			SubmitTimeout:  time.Second,
			RefreshTimeout: time.Second,
		},
		Submission:  configuration.SubmissionConfig{MaxBundleSize: 2},
		Persistence: configuration.PersistenceConfig{Type: "none", RecoveryAttempts: 1},
		Daemon: configuration.DaemonConfig{
			RefreshInterval: 10 * time.Millisecond,
			SubmitInterval:  10 * time.Millisecond,
		},
	}
}

type testProject struct {
	*Project
	root    string
	backend *backend.Fake
}

func openTestProject(t *testing.T, mutate func(*configuration.JobflowConfiguration)) *testProject {
	root := t.TempDir()
	for i := 0; i < 4; i++ {
		writeJob(t, root, fmt.Sprintf("job%d", i), fmt.Sprintf(`{"a": %d}`, i), "")
	}
	config := testConfig(root)
	if mutate != nil {
		mutate(&config)
	}
	clock := clocktesting.NewFakeClock(time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := backend.NewFake(clock)
	project, err := Open(context.Background(), config, Dependencies{Backend: fake, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(project.Close)
	return &testProject{Project: project, root: root, backend: fake}
}

func states(t *testing.T, p *testProject, operation string) map[string]eligibility.State {
	result, err := p.Status(context.Background(), eligibility.Filter{Operations: []string{operation}})
	require.NoError(t, err)
	byJob := map[string]eligibility.State{}
	for _, instance := range result.Instances {
		byJob[instance.Aggregate.Id()] = instance.State
	}
	return byJob
}

func allIn(state eligibility.State) map[string]eligibility.State {
	return map[string]eligibility.State{"job0": state, "job1": state, "job2": state, "job3": state}
}

func TestProject_Workflow(t *testing.T) {
	auditLog := ""
	p := openTestProject(t, func(c *configuration.JobflowConfiguration) {
		auditLog = filepath.Join(c.Workspace.Root, "..", "audit", "finished.jsonl")
		c.Workspace.AuditLog = auditLog
	})
	ctx := context.Background()

	assert.Equal(t, allIn(eligibility.Eligible), states(t, p, "compute"))
	assert.Equal(t, allIn(eligibility.NotEligible), states(t, p, "analyze"))

	result, err := p.Submit(ctx, eligibility.Filter{}, p.DefaultSubmitOptions())
	require.NoError(t, err)
	require.Len(t, result.Submissions, 2)
	assert.Contains(t, result.Submissions[0].Script, "compute job0\ncompute job1")
	assert.Equal(t, allIn(eligibility.Submitted), states(t, p, "compute"))

	// Nothing is submitted twice.
	result, err = p.Submit(ctx, eligibility.Filter{}, p.DefaultSubmitOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Submissions)

	for i := 0; i < 4; i++ {
		writeJob(t, p.root, fmt.Sprintf("job%d", i), fmt.Sprintf(`{"a": %d}`, i), `{"done": true}`)
	}
	for i := 0; i < 3; i++ {
		p.backend.Step()
	}
	_, err = p.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, allIn(eligibility.Inactive), states(t, p, "compute"))
	assert.Equal(t, allIn(eligibility.Eligible), states(t, p, "analyze"))

	data, err := os.ReadFile(auditLog)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)
}

func TestProject_Script(t *testing.T) {
	p := openTestProject(t, nil)
	submissions, err := p.Script(context.Background(), eligibility.Filter{JobIds: []string{"job1"}}, SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, submissions, 1)
	assert.Contains(t, submissions[0].Script, "compute job1")
	assert.Empty(t, submissions[0].ExternalId)

	assert.Empty(t, p.Tracker().Records())
	assert.Equal(t, allIn(eligibility.Eligible), states(t, p, "compute"))
}

func TestProject_SubmitLimit(t *testing.T) {
	p := openTestProject(t, nil)
	result, err := p.Submit(context.Background(), eligibility.Filter{}, SubmitOptions{MaxBundleSize: 1, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, result.Submissions, 3)
}

func TestProject_Cancel(t *testing.T) {
	p := openTestProject(t, nil)
	result, err := p.Submit(context.Background(), eligibility.Filter{JobIds: []string{"job0"}}, SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, result.Submissions, 1)

	cancelled, err := p.Cancel(context.Background(), result.ExternalIds()[0], "unknown")
	require.NoError(t, err)
	assert.Equal(t, result.ExternalIds(), cancelled)

	_, err = p.Refresh(context.Background())
	require.NoError(t, err)
	// The job was cancelled before it finished, so compute is eligible again.
	assert.Equal(t, eligibility.Eligible, states(t, p, "compute")["job0"])
}

func TestProject_Labels(t *testing.T) {
	p := openTestProject(t, nil)
	writeJob(t, p.root, "job2", `{"a": 2}`, `{"done": true}`)

	labels, err := p.Labels(context.Background(), eligibility.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"job0", "job1", "job2", "job3"}, JobIds(labels))
	assert.Equal(t, []string{"computed"}, labels["job2"])
	assert.Empty(t, labels["job0"])

	labels, err = p.Labels(context.Background(), eligibility.Filter{JobIds: []string{"job[01]"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"job0", "job1"}, JobIds(labels))
}

func TestOpen_InvalidConfig(t *testing.T) {
	config := testConfig(t.TempDir())
	config.Scheduler.Type = "slurm"
	_, err := Open(context.Background(), config, Dependencies{})
	assert.Error(t, err)

	config = testConfig(t.TempDir())
	config.Submission.Template = "{{ .Label"
	_, err = Open(context.Background(), config, Dependencies{})
	assert.Error(t, err)
}
