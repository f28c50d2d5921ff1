// Package watch reruns documents when their spec files change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period after the last change to a file.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes one changed spec file. Errors are logged and watching
// continues.
type Handler func(ctx context.Context, path string) error

// Watcher watches a directory for composite spec files.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
}

// New creates a watcher.
func New(logger zerolog.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fsw,
		debounce: debounce,
		logger:   logger.With().Str("component", "watch").Logger(),
	}, nil
}

// IsSpecFile reports whether path looks like a composite spec.
func IsSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(path), ".")
	default:
		return false
	}
}

// Run watches dir until ctx is done. Created or written spec files are passed
// to handle once they have been quiet for the debounce period. Handlers run
// one at a time in path order.
func (w *Watcher) Run(ctx context.Context, dir string, handle Handler) error {
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info().Str("dir", dir).Msg("watching for spec changes")

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !IsSpecFile(event.Name) || !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("spec changed")
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			for _, p := range paths {
				if ctx.Err() != nil {
					return nil
				}
				if err := handle(ctx, p); err != nil {
					w.logger.Error().Err(err).Str("path", p).Msg("spec run failed")
				}
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
