package shader

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes registered shader source files and records which
// logical shaders became stale after an on-disk edit. Editor tooling
// polls StalePacks each frame and triggers recompilation of the affected
// packs; the engine works fine without a watcher.
type Watcher struct {
	fw *fsnotify.Watcher

	mu      sync.Mutex
	byPath  map[string]string // absolute source path → shader name
	stale   map[string]bool   // shader name → stale
	closed  bool
	doneCh  chan struct{}
	watchWG sync.WaitGroup
}

// NewWatcher starts a source watcher. Close must be called to release the
// underlying OS watch handles.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shader: watcher: %w", err)
	}
	w := &Watcher{
		fw:     fw,
		byPath: make(map[string]string),
		stale:  make(map[string]bool),
		doneCh: make(chan struct{}),
	}
	w.watchWG.Add(1)
	go w.run()
	return w, nil
}

// Watch registers a shader's source file. Edits to the file mark the
// shader name stale.
func (w *Watcher) Watch(name, sourcePath string) error {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return fmt.Errorf("shader: watcher: %w", err)
	}
	w.mu.Lock()
	w.byPath[abs] = name
	w.mu.Unlock()
	if err := w.fw.Add(abs); err != nil {
		return fmt.Errorf("shader: watcher add %q: %w", abs, err)
	}
	return nil
}

// run consumes filesystem events until Close.
func (w *Watcher) run() {
	defer w.watchWG.Done()
	for {
		select {
		case <-w.doneCh:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			if name, ok := w.byPath[abs]; ok {
				w.stale[name] = true
				logger().Debug("shader source changed on disk", "shader", name, "path", abs)
			}
			w.mu.Unlock()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger().Warn("shader source watcher error", "error", err)
		}
	}
}

// StalePacks returns the names of shaders whose source changed since the
// last call and clears the stale set.
func (w *Watcher) StalePacks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.stale) == 0 {
		return nil
	}
	names := make([]string, 0, len(w.stale))
	for name := range w.stale {
		names = append(names, name)
	}
	w.stale = make(map[string]bool)
	return names
}

// Close stops the watcher and releases its OS handles.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.doneCh)
	err := w.fw.Close()
	w.watchWG.Wait()
	return err
}
