package capture

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches a screenshots directory and hands finished image files
// to a callback. Writes are debounced per file so a capture is only
// submitted once the producer has stopped writing it.
type Watcher struct {
	watcher   *fsnotify.Watcher
	logger    zerolog.Logger
	onCapture func(path string)
	debounce  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher delivering image paths to onCapture.
func NewWatcher(logger zerolog.Logger, debounce time.Duration, onCapture func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		watcher:   fsw,
		logger:    logger.With().Str("component", "capture-watcher").Logger(),
		onCapture: onCapture,
		debounce:  debounce,
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Watch starts watching a directory for new captures.
func (w *Watcher) Watch(dir string) error {
	return w.watcher.Add(dir)
}

// Stop stops the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()

		w.mu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()
	})
	return err
}

// run processes file system events
func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsImagePath(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// schedule (re)arms the debounce timer for a path; the callback fires once
// the file has been quiet for the debounce window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return
		default:
		}

		w.logger.Debug().Str("path", path).Msg("Capture file settled")
		w.onCapture(path)
	})
}
