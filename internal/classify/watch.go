package classify

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rule pack whenever the file at path changes. It blocks
// until ctx is cancelled, so callers run it in its own goroutine. Reload
// failures keep the previous rule set in place.
func Watch(ctx context.Context, path string, classifier *Classifier, logger *slog.Logger) error {
	if path == "" || classifier == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which would drop
	// a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := LoadPack(path)
			if err != nil {
				logger.Warn("rule pack reload failed", slog.String("path", path), slog.Any("error", err))
				continue
			}
			classifier.ReloadPack(rules)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rule pack watcher error", slog.Any("error", err))
		}
	}
}
