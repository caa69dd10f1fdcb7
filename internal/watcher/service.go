// Package watcher reloads the identity mapping store when its backing file
// is replaced out of band, e.g. restored from a backup or rewritten by an
// operator tool.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Service struct {
	path     string
	logger   *slog.Logger
	onChange func(context.Context)
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// New watches the parent directory of path. Watching the directory instead
// of the file survives atomic rename-into-place rewrites.
func New(path string, logger *slog.Logger, onChange func(context.Context)) (*Service, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		path:     filepath.Clean(path),
		logger:   logger,
		onChange: onChange,
		watcher:  fileWatcher,
		debounce: 200 * time.Millisecond,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	dir := filepath.Dir(s.path)
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	s.logger.Info("mapping file watcher started", "path", s.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("mapping file watcher stopped")
			return nil
		case event := <-s.watcher.Events:
			if !s.relevant(event) {
				continue
			}
			// Full-file rewrites arrive as bursts of events; collapse
			// each burst into a single reload.
			pending = time.After(s.debounce)
		case <-pending:
			pending = nil
			s.logger.Info("mapping file changed, reloading")
			s.onChange(ctx)
		case err := <-s.watcher.Errors:
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != s.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
