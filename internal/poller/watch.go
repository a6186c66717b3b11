package poller

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agusx1211/switchyard/internal/debug"
)

// DefaultDebounce coalesces bursts of file events into one nudge.
const DefaultDebounce = 500 * time.Millisecond

type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// Watch nudges tasks when files change under the given directories. routes
// maps a directory to the tasks interested in it; missing directories are
// created. Only one watcher can be attached.
func (p *Poller) Watch(routes map[string][]string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	byDir := make(map[string][]string, len(routes))
	for dir, tasks := range routes {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fw.Close()
			return err
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			fw.Close()
			return fmt.Errorf("creating %s: %w", abs, err)
		}
		if err := fw.Add(abs); err != nil {
			fw.Close()
			return fmt.Errorf("watching %s: %w", abs, err)
		}
		byDir[abs] = append(byDir[abs], tasks...)
	}

	w := &watcher{fs: fw, done: make(chan struct{})}
	p.mu.Lock()
	if p.watcher != nil || p.stopped {
		p.mu.Unlock()
		fw.Close()
		return fmt.Errorf("poller: watcher already attached or poller stopped")
	}
	p.watcher = w
	p.mu.Unlock()

	w.wg.Add(1)
	go w.loop(p, byDir, debounce)
	debug.LogKV("poller", "watching", "dirs", len(byDir), "debounce", debounce)
	return nil
}

func (w *watcher) loop(p *Poller, byDir map[string][]string, debounce time.Duration) {
	defer w.wg.Done()
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			for _, task := range byDir[filepath.Dir(event.Name)] {
				if t, ok := timers[task]; ok {
					t.Stop()
				}
				name := task
				timers[task] = time.AfterFunc(debounce, func() { p.Nudge(name) })
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			debug.Warn("poller", "file watcher error", "error", err)
		}
	}
}

func (w *watcher) close() {
	close(w.done)
	w.fs.Close()
	w.wg.Wait()
}
