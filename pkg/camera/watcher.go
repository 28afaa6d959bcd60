package camera

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const DefaultDeviceDir = "/dev"

// Watcher turns video device node creation and removal under a directory
// into DeviceEvents.
type Watcher struct {
	watcher *fsnotify.Watcher
	prefix  string
	events  chan DeviceEvent
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches dir for entries whose name starts with "video".
func NewWatcher(dir string) (*Watcher, error) {
	if dir == "" {
		dir = DefaultDeviceDir
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create device watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: fw,
		prefix:  "video",
		events:  make(chan DeviceEvent, 8),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) Events() <-chan DeviceEvent { return w.events }

// Errors carries watcher failures; it is drained lazily and may drop.
func (w *Watcher) Errors() <-chan error { return w.errs }

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			ev, match := w.translate(event)
			if !match {
				continue
			}
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) translate(event fsnotify.Event) (DeviceEvent, bool) {
	if !strings.HasPrefix(filepath.Base(event.Name), w.prefix) {
		return DeviceEvent{}, false
	}
	switch {
	case event.Has(fsnotify.Create):
		return DeviceEvent{Kind: DeviceAdded, Path: event.Name}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return DeviceEvent{Kind: DeviceRemoved, Path: event.Name}, true
	}
	return DeviceEvent{}, false
}
