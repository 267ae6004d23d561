package dirwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// DefaultSettle is how long a file must stay quiet after its last write before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Files lists the regular, non-hidden files directly under dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// Watch calls onFile for every file created or rewritten under dir until ctx ends. Writes are
// coalesced per path; onFile runs on the watcher goroutine, one call at a time.
func Watch(ctx context.Context, dir string, settle time.Duration, log *logger.Logger, onFile func(path string)) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log = log.With("component", "DirWatch", "dir", dir)
	log.Info("Watching directory")

	pending := map[string]time.Time{}
	tick := time.NewTicker(settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path, changed := handleEvent(ev)
			if !changed {
				continue
			}
			pending[path] = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case now := <-tick.C:
			var ready []string
			for p, at := range pending {
				if now.Sub(at) >= settle {
					ready = append(ready, p)
					delete(pending, p)
				}
			}
			for _, p := range ready {
				onFile(p)
			}
		}
	}
}

// handleEvent reports the path of a created or written regular file. Removals, renames, chmods,
// directories and hidden files are ignored.
func handleEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if hidden(filepath.Base(ev.Name)) {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return ev.Name, true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
