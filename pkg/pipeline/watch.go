package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchSource loads the file at path as source text, then keeps doing so
// whenever the file changes until ctx is done. changed, if not nil, is
// called after every reload that altered the source.
func (s *Store) WatchSource(ctx context.Context, path string, changed func()) error {
	reread := func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if s.SetSource(string(data)) && changed != nil {
			changed()
		}
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := reread(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Printf("watch %s: %v", path, err)
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors write in bursts; wait until the file settles
		drain:
			for {
				time.Sleep(10 * time.Millisecond)
				select {
				case <-watcher.Events:
				default:
					break drain
				}
			}
			if err := reread(); err != nil {
				s.log.Printf("reload %s: %v", path, err)
			}
			// editors that save by renaming replace the watched inode
			if err := watcher.Add(path); err != nil {
				s.log.Printf("watch %s: %v", path, err)
			}
		}
	}
}
