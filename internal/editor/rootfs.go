package editor

import (
	"context"
	"path/filepath"

	"github.com/roach88/coedit/internal/watch"
)

// RootedFileStore resolves engine document keys against a content root.
// Sessions stay keyed by root-relative paths, which keeps event payloads
// and logs free of the server's filesystem layout.
type RootedFileStore struct {
	Root string
	FS   FileStore // nil means the OS filesystem
}

func (r RootedFileStore) fs() FileStore {
	if r.FS != nil {
		return r.FS
	}
	return OSFileStore{}
}

func (r RootedFileStore) ReadFile(path string) (string, error) {
	return r.fs().ReadFile(filepath.Join(r.Root, path))
}

func (r RootedFileStore) WriteFile(path, content string) error {
	return r.fs().WriteFile(filepath.Join(r.Root, path), content)
}

// RootedWatcher wraps a watcher so it sees disk paths while the engine
// keeps speaking root-relative keys. Run pumps the inner event stream,
// translating paths back.
type RootedWatcher struct {
	root  string
	inner Watcher
	out   chan watch.Event
}

// NewRootedWatcher wraps inner; events surface with paths relative to root.
func NewRootedWatcher(root string, inner Watcher) *RootedWatcher {
	return &RootedWatcher{
		root:  root,
		inner: inner,
		out:   make(chan watch.Event, 16),
	}
}

func (w *RootedWatcher) join(path string) string {
	return filepath.Join(w.root, path)
}

func (w *RootedWatcher) Add(path string)       { w.inner.Add(w.join(path)) }
func (w *RootedWatcher) Remove(path string)    { w.inner.Remove(w.join(path)) }
func (w *RootedWatcher) MarkClean(path string) { w.inner.MarkClean(w.join(path)) }

func (w *RootedWatcher) Events() <-chan watch.Event {
	return w.out
}

// Run drives the inner watcher and relays its events with root-relative
// paths until ctx is cancelled.
func (w *RootedWatcher) Run(ctx context.Context) {
	go w.inner.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.inner.Events():
			if !ok {
				return
			}
			if rel, err := filepath.Rel(w.root, ev.Path); err == nil {
				ev.Path = rel
			}
			select {
			case w.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
