package store

import (
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the blob directory and fires a callback whenever a
// published blob appears, changes, or disappears outside the normal
// publish path (manual deletes, restores from backup). Consumers use it
// to invalidate cached snapshots such as the generated feed.
type Watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// WatchBlobs starts watching the blob store's directory. onChange is
// called from a background goroutine; it must be safe for concurrent
// use.
func WatchBlobs(blobs *BlobStore, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(blobs.Dir()); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{fs: fw, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				// Temp files churn during synthesis; only completed
				// blobs matter.
				if strings.Contains(event.Name, tempMarker) {
					continue
				}
				if !strings.HasSuffix(event.Name, mp3Ext) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					onChange()
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
