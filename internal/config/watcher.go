package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/masallsome/rapidmember/internal/logging"
)

// Watcher hot-reloads the operational subset of a node's configuration —
// detector timing and failure threshold, log level — the way the teacher's
// Watcher (pkg/config/watcher.go) hot-reloads the gateway's listener/route
// DSL. Unlike the teacher, this Watcher refuses to let a reload change
// Watermark (K/H/L): those are fixed for a configuration's lifetime per
// spec.md §4.1, so a file edit that touches them is logged and the
// original values are kept.
type Watcher struct {
	path    string
	fixed   Watermark
	updates chan *Config
	watcher *fsnotify.Watcher
	log     *logging.Logger
}

// NewWatcher builds a Watcher for path. fixed is the Watermark the node
// bootstrapped with; a reload whose file changes it is still published,
// but with fixed in place of the file's watermark.
func NewWatcher(path string, fixed Watermark) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:    path,
		fixed:   fixed,
		updates: make(chan *Config, 10),
		watcher: w,
		log:     logging.New("config-watcher"),
	}, nil
}

// Updates returns the channel of successfully reloaded configs.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start watches path for writes and reloads on each one. It runs until the
// underlying fsnotify watcher is closed, and should be launched in its own
// goroutine.
func (w *Watcher) Start() error {
	defer w.watcher.Close()

	if err := w.reload(); err != nil {
		w.log.Printf("initial load failed: %v", err)
	}
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}
	w.log.Printf("watching %s", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := w.reload(); err != nil {
					w.log.Printf("reload failed: %v", err)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if cfg.Watermark != w.fixed {
		w.log.Printf("ignoring watermark change on reload (k/h/l are fixed for a configuration's lifetime): file had %+v, keeping %+v", cfg.Watermark, w.fixed)
		cfg.Watermark = w.fixed
	}

	select {
	case w.updates <- cfg:
		w.log.Printf("config reloaded from %s", w.path)
	default:
		w.log.Printf("update channel full, dropping reload")
	}
	return nil
}
