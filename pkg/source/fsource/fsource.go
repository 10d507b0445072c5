// Package fsource implements a file-watch Source: every file created under a
// watched directory becomes one work item carrying the file's path.
package fsource

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/pacerio/pacer/pkg/logging"
)

// Source watches a directory and yields created file paths as items.
//
// TryNext is only ever called from the producer's goroutine, so the pending
// list needs no locking; the watcher's channels are drained non-blockingly
// on each poll.
type Source struct {
	watcher *fsnotify.Watcher
	pending []string
	logger  logging.Logger
}

// New creates a Source watching dir. A nil logger falls back to the default.
func New(dir string, logger logging.Logger) (*Source, error) {
	if logger == nil {
		logger = logging.New()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsource: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("fsource: watch %s: %w", dir, err)
	}

	return &Source{watcher: watcher, logger: logger}, nil
}

// TryNext drains any buffered filesystem events and returns the oldest
// created path, if one exists.
func (s *Source) TryNext() (interface{}, bool, error) {
	s.drain()

	if len(s.pending) == 0 {
		return nil, false, nil
	}
	path := s.pending[0]
	s.pending = s.pending[1:]
	return path, true, nil
}

func (s *Source) drain() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				s.pending = append(s.pending, ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warnf("fsource: watch error: %v", err)
		default:
			return
		}
	}
}

// Close stops the watcher. Pending, already-observed paths remain
// retrievable via TryNext.
func (s *Source) Close() error {
	return s.watcher.Close()
}
