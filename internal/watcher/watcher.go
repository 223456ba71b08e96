// Package watcher publishes a file_changed event whenever a file under the
// exercise root changes on disk.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/tourlab/termbroker/internal/fileutil"
	"github.com/tourlab/termbroker/internal/protocol"
)

// Publisher receives the change notifications. *bus.Bus satisfies it.
type Publisher interface {
	Publish(m protocol.Message) int
}

// skipDirs are never watched.
var skipDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"__pycache__":  true,
}

// Watcher watches the exercise tree. fsnotify watches single directories,
// so every directory is added on start and new ones as they appear.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	pub  Publisher
}

// New watches root, which must be an absolute, resolved directory.
func New(root string, pub Publisher) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{root: root, fsw: fsw, pub: pub}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return w, nil
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().Str("root", w.root).Int("dirs", len(w.fsw.WatchList())).Msg("File watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, err := fileutil.RelWithin(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	if hidden(rel) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				log.Warn().Err(err).Str("dir", rel).Msg("Failed to watch new directory")
			}
		}
	}

	// Paths above <chapter>/<exercise> belong to no exercise.
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return
	}
	exercise := ExerciseName(filepath.Join(w.root, parts[0], parts[1]))
	w.pub.Publish(protocol.FileChanged(exercise, rel))
	log.Debug().Str("exercise", exercise).Str("file", rel).Str("op", ev.Op.String()).Msg("Exercise file changed")
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Entries can vanish between listing and visiting.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// hidden reports whether any element of rel is a skipped name.
func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if skipDir(seg) {
			return true
		}
	}
	return false
}

// ExerciseName returns the title from dir/metadata.json, or a name derived
// from the directory: "ex01_hello_world" becomes "01 hello world".
func ExerciseName(dir string) string {
	if data, err := os.ReadFile(filepath.Join(dir, "metadata.json")); err == nil {
		var meta struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(data, &meta) == nil && meta.Title != "" {
			return meta.Title
		}
	}
	name := strings.ReplaceAll(filepath.Base(dir), "_", " ")
	return strings.Replace(name, "ex", "", 1)
}
