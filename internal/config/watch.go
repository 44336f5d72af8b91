package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/loomrun/agentcore/internal/errs"
)

// Watcher hot-reloads a YAML override file's hot-swappable fields (log
// level, rate limits, token budgets) into a live Config, leaving
// restart-only fields (KV_URL, sandbox credentials, pool sizing) untouched.
// Grounded on haasonsaas-nexus's internal/skills.Manager watch loop: an
// fsnotify.Watcher on the containing directory (so editors that
// write-then-rename still trigger an event) feeding a debounced reload.
type Watcher struct {
	path     string
	debounce time.Duration

	mu  sync.RWMutex
	cur Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// OnReload, if set, is called with the freshly merged Config after
	// every successful reload (on the debounce timer's goroutine).
	OnReload func(Config)
}

// NewWatcher wraps initial and is ready to Start watching path for changes.
func NewWatcher(path string, initial Config) *Watcher {
	return &Watcher{path: path, cur: initial, debounce: 250 * time.Millisecond}
}

// Current returns the latest Config snapshot.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Start begins watching w.path's containing directory until ctx is done or
// Stop is called. A no-op if path is empty (no override file configured).
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.Internal, "create config watcher", err)
	}
	dir := parentDir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return errs.Wrap(errs.Internal, "watch config directory", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(watchCtx, fw)
	return nil
}

// Stop ends the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	var timer *time.Timer
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Name == w.path && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload re-reads the YAML file and merges only hot-swappable fields into
// the live Config, leaving everything else (including fields the file
// doesn't mention) as-is.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	applyHotFields(&w.cur, data)
	cur := w.cur
	w.mu.Unlock()

	if w.OnReload != nil {
		w.OnReload(cur)
	}
}

// applyHotFields unmarshals data into a throwaway Config and copies across
// only the fields listed in hotSwappable, so a malformed or partial
// override file can never clobber restart-only fields like KVURL.
func applyHotFields(cur *Config, data []byte) {
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return
	}
	if hotSwappable["log_level"] && parsed.LogLevel != "" {
		cur.LogLevel = parsed.LogLevel
	}
	if hotSwappable["rate_limit_rps"] && parsed.RateLimitRPS > 0 {
		cur.RateLimitRPS = parsed.RateLimitRPS
	}
	if hotSwappable["rate_limit_burst"] && parsed.RateLimitBurst > 0 {
		cur.RateLimitBurst = parsed.RateLimitBurst
	}
	if hotSwappable["llm_token_budgets"] && len(parsed.LLMTokenBudgets) > 0 {
		cur.LLMTokenBudgets = parsed.LLMTokenBudgets
	}
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "."
	}
	return path[:i]
}
