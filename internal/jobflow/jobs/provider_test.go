package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJob(t *testing.T, root, id, statePoint, document string) {
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if statePoint != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, StatePointFile), []byte(statePoint), 0o644))
	}
	if document != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DocumentFile), []byte(document), 0o644))
	}
}

func TestWorkspaceProvider_Jobs(t *testing.T) {
	root := t.TempDir()
	writeJob(t, root, "bbb", `{"a": 1, "b": {"c": "x"}}`, `{"done": true}`)
	writeJob(t, root, "aaa", `{"a": 0}`, "")
	writeJob(t, root, "nostatepoint", "", `{"done": true}`)

	p, err := NewWorkspaceProvider(root, 16)
	require.NoError(t, err)

	jobs, err := p.Jobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "aaa", jobs[0].Id())
	assert.Equal(t, "bbb", jobs[1].Id())

	v, ok := jobs[1].Get("b.c")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	done, ok := jobs[1].Document().Get("done")
	assert.True(t, ok)
	assert.Equal(t, true, done)

	_, ok = jobs[0].Document().Get("done")
	assert.False(t, ok)
}

func TestWorkspaceProvider_DocumentIsReRead(t *testing.T) {
	root := t.TempDir()
	writeJob(t, root, "aaa", `{"a": 0}`, `{"done": false}`)
	p, err := NewWorkspaceProvider(root, 16)
	require.NoError(t, err)

	job, err := p.Job(context.Background(), "aaa")
	require.NoError(t, err)
	done, _ := job.Document().Get("done")
	assert.Equal(t, false, done)

	writeJob(t, root, "aaa", "", `{"done": true}`)
	job, err = p.Job(context.Background(), "aaa")
	require.NoError(t, err)
	done, _ = job.Document().Get("done")
	assert.Equal(t, true, done)
}

func TestWorkspaceProvider_MissingWorkspace(t *testing.T) {
	p, err := NewWorkspaceProvider(filepath.Join(t.TempDir(), "missing"), 16)
	require.NoError(t, err)
	jobs, err := p.Jobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestWorkspaceProvider_InvalidStatePoint(t *testing.T) {
	root := t.TempDir()
	writeJob(t, root, "aaa", `{"a": `, "")
	p, err := NewWorkspaceProvider(root, 16)
	require.NoError(t, err)
	_, err = p.Jobs(context.Background())
	assert.Error(t, err)
}
