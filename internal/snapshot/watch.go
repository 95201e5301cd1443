package snapshot

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
)

const watchDebounce = 250 * time.Millisecond

// Watch calls fn with the current snapshots and again after every change to
// path, until ctx is done. The parent directory is watched because writers
// replace the file by rename.
func Watch(ctx context.Context, path string, fn func([]Presentation)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	fn(Read(path))

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			fn(Read(path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("Snapshot watch error", zap.String("path", path), zap.Error(err))
		}
	}
}
