// Package watch reports changes to the YAML files of a directory so that
// template and workflow libraries can reload while the menu is open.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joss/llmrouter/internal/logging"
)

// DefaultDebounce coalesces editor save bursts into one reload.
const DefaultDebounce = 150 * time.Millisecond

// Dir watches one directory and calls onChange after *.yaml / *.yml files
// are created, written, renamed or removed.
type Dir struct {
	path     string
	onChange func()
	debounce time.Duration
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	closed   bool
	log      *logging.Logger
}

// New creates a watcher for path. Call Start to begin.
func New(path string, onChange func()) (*Dir, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dir{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: DefaultDebounce,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.New("watch"),
	}, nil
}

// SetDebounce changes the coalescing window. Call before Start.
func (d *Dir) SetDebounce(v time.Duration) {
	d.debounce = v
}

// Start adds the watch and begins the event loop.
func (d *Dir) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.closed {
		return nil
	}
	if err := d.watcher.Add(d.path); err != nil {
		return err
	}
	d.running = true
	go d.loop()
	return nil
}

// Stop stops the watcher.
func (d *Dir) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.running = false
	d.cancel()
	return d.watcher.Close()
}

func (d *Dir) loop() {
	var timer *time.Timer
	for {
		select {
		case <-d.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !IsYAML(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			d.log.Debug("file_changed", logging.Fields{"path": ev.Name, "op": ev.Op.String()})
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(d.debounce, d.onChange)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Error("watch_error", logging.Fields{"path": d.path}, err)
		}
	}
}

// IsYAML reports whether name has a YAML extension.
func IsYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
