package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch follows changes other processes make to the session file, much like
// the browser storage event between tabs. It returns once the watcher is
// running; watching stops when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	fs, ok := s.storage.(*FileStorage)
	if !ok {
		return fmt.Errorf("session watch requires file storage, got %T", s.storage)
	}

	dir := filepath.Dir(fs.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// The directory is watched because Save replaces the file by rename.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	go s.watchLoop(ctx, fsw, filepath.Clean(fs.Path()))
	return nil
}

func (s *Store) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, path string) {
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.reload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[session] watcher error: %v", err)
		}
	}
}
