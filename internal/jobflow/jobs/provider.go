package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"
)

const (
	StatePointFile = "signac_statepoint.json"
	DocumentFile   = "signac_job_document.json"
)

// Provider gives read-only access to the jobs of a project.
type Provider interface {
	// Jobs returns every job, ordered by id.
	Jobs(ctx context.Context) ([]*Job, error)
	Job(ctx context.Context, id string) (*Job, error)
}

// WorkspaceProvider reads jobs from a workspace directory holding one sub-directory per job, named by job id.
// Each job directory contains the state point and an optional document as JSON files.
// State points never change after a job is created and are cached; documents are re-read on every call.
type WorkspaceProvider struct {
	root        string
	statePoints *lru.Cache
}

func NewWorkspaceProvider(root string, cacheSize int) (*WorkspaceProvider, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &WorkspaceProvider{root: root, statePoints: cache}, nil
}

func (p *WorkspaceProvider) Root() string {
	return p.root
}

func (p *WorkspaceProvider) Jobs(ctx context.Context) ([]*Job, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Job{}, nil
		}
		return nil, errors.Wrapf(err, "reading workspace %s", p.root)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)

	result := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		job, err := p.Job(ctx, id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.WithField("job", id).Debug("skipping workspace directory without state point")
				continue
			}
			return nil, err
		}
		result = append(result, job)
	}
	return result, nil
}

func (p *WorkspaceProvider) Job(_ context.Context, id string) (*Job, error) {
	dir := filepath.Join(p.root, id)
	statePoint, err := p.statePoint(id, dir)
	if err != nil {
		return nil, err
	}
	document := map[string]interface{}{}
	if err := readJSONFile(filepath.Join(dir, DocumentFile), &document); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return NewJob(id, statePoint, NewMapDocument(document)), nil
}

func (p *WorkspaceProvider) statePoint(id string, dir string) (map[string]interface{}, error) {
	if cached, ok := p.statePoints.Get(id); ok {
		return cached.(map[string]interface{}), nil
	}
	statePoint := map[string]interface{}{}
	if err := readJSONFile(filepath.Join(dir, StatePointFile), &statePoint); err != nil {
		return nil, err
	}
	p.statePoints.Add(id, statePoint)
	return statePoint, nil
}

func readJSONFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}
