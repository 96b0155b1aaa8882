package statemachine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/qbloq/agentico/internal/model"
)

// fileGraph is the on-disk JSON5 shape a tenant authors a state machine
// in (dev/standalone mode), mirroring model.StateMachine's exported
// fields minus the store-assigned id.
type fileGraph struct {
	TenantID     string                       `json:"tenantId"`
	Name         string                       `json:"name"`
	Version      int                          `json:"version"`
	InitialState string                       `json:"initialState"`
	States       map[string]model.StateConfig `json:"states"`
}

// LoadFile reads and JSON5-decodes a state machine definition from
// disk, validating it the same way New does.
func LoadFile(path string) (*model.StateMachine, *Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read state machine file %s: %w", path, err)
	}

	var fg fileGraph
	if err := json5.Unmarshal(data, &fg); err != nil {
		return nil, nil, fmt.Errorf("parse state machine file %s: %w", path, err)
	}

	for id, state := range fg.States {
		state.ID = id
		fg.States[id] = state
	}

	machine := &model.StateMachine{
		TenantID:     fg.TenantID,
		Name:         fg.Name,
		Version:      fg.Version,
		InitialState: fg.InitialState,
		States:       fg.States,
		Active:       true,
	}

	rt, err := New(machine)
	if err != nil {
		return nil, nil, err
	}
	return machine, rt, nil
}

// Loader caches tenant state-machine graphs loaded from JSON5 files on
// disk (the standalone/dev backend, mirroring the teacher's file-based
// config loading in internal/config/config_load.go) and hot-reloads
// them on write, adapted from the file-watcher idiom in
// pkg/patterns/hotreload.go generalized from pattern YAML to state-graph
// JSON5 and from zap to this repo's slog logging.
type Loader struct {
	dir    string
	mu     sync.RWMutex
	byName map[string]*Runtime

	watcher *fsnotify.Watcher
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	stopCh         chan struct{}
}

// NewLoader loads every *.json5 file in dir and starts a watcher for
// subsequent changes. Call Close to stop the watcher.
func NewLoader(dir string) (*Loader, error) {
	l := &Loader{
		dir:            dir,
		byName:         make(map[string]*Runtime),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read state machine dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json5") {
			continue
		}
		if err := l.loadOne(filepath.Join(dir, e.Name())); err != nil {
			slog.Warn("skipping invalid state machine file", "file", e.Name(), "error", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create state machine file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch state machine dir %s: %w", dir, err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return l, nil
}

func (l *Loader) loadOne(path string) error {
	machine, rt, err := LoadFile(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.byName[machine.Name] = rt
	l.mu.Unlock()
	slog.Info("state machine loaded", "name", machine.Name, "version", machine.Version, "file", path)
	return nil
}

// Get returns the cached Runtime for a state machine name.
func (l *Loader) Get(name string) (*Runtime, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rt, ok := l.byName[name]
	return rt, ok
}

func (l *Loader) watchLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json5") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.debounce(event.Name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("state machine file watcher error", "error", err)
		case <-l.stopCh:
			return
		}
	}
}

// debounce waits 300ms of quiet on a path before reloading, absorbing
// editor save bursts the same way the teacher's pattern hot-reloader does.
func (l *Loader) debounce(path string) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()

	if t, ok := l.debounceTimers[path]; ok {
		t.Stop()
	}
	l.debounceTimers[path] = time.AfterFunc(300*time.Millisecond, func() {
		if err := l.loadOne(path); err != nil {
			slog.Error("state machine hot-reload failed, keeping previous version", "file", path, "error", err)
		}
		l.debounceMu.Lock()
		delete(l.debounceTimers, path)
		l.debounceMu.Unlock()
	})
}

// Close stops the watcher and any pending debounce timers.
func (l *Loader) Close() error {
	close(l.stopCh)
	l.debounceMu.Lock()
	for _, t := range l.debounceTimers {
		t.Stop()
	}
	l.debounceMu.Unlock()
	return l.watcher.Close()
}
