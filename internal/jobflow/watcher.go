package jobflow

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// watchWorkspace signals changed whenever a job is added or removed or a job document is written.
// Signals are coalesced: changed only ever holds one pending notification.
func watchWorkspace(ctx context.Context, root string, changed chan<- struct{}) error {
	logger := logging.ForComponent("watcher")
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return errors.Wrapf(err, "watching workspace %s", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.Add(filepath.Join(root, entry.Name())); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	logger.Infof("watching %s for job changes", root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Dir(event.Name) == filepath.Clean(root) {
				// A job directory was added or removed.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.Add(event.Name); err != nil {
							logging.WithStacktrace(logger, err).Warnf("failed to watch %s", event.Name)
						}
					}
				}
				notify(changed)
				continue
			}
			if filepath.Base(event.Name) == jobs.DocumentFile && !event.Has(fsnotify.Chmod) {
				notify(changed)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.WithStacktrace(logger, err).Warn("workspace watcher error")
		}
	}
}

func notify(changed chan<- struct{}) {
	select {
	case changed <- struct{}{}:
	default:
	}
}
