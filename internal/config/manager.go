package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "notifyd/pkg/logx"
)

// reloadDebounce lets an editor finish its write burst (truncate, write,
// rename) before the file is re-read.
const reloadDebounce = 250 * time.Millisecond

// Manager owns the daemon's config file: initial load, debounced watch,
// validation before commit, and fanout of accepted snapshots to
// subscribers. A rejected reload leaves the last good config in place.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu also serializes sends against Unsubscribe's close.
	subsMu sync.Mutex
	subs   []chan *Config

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the check a watched reload must pass before it
// is committed and published. The initial Load is the caller's to check.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Load reads the file and makes it the current config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// parse reads and strictly decodes the file. YAML is coerced to JSON
// first so both formats go through the same unknown-field rejection.
func (m *Manager) parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = configHash(cfg)
	m.mu.Unlock()
}

func configHash(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives each accepted reload.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish hands the snapshot to every subscriber, latest-wins: a full
// buffer loses its oldest entry first, and a subscriber that still will
// not take the send is skipped. Subscribers only ever care about the
// newest config, so dropping stale ones is harmless.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped, subscriber not reading")
		}
	}
}

// reload re-reads the file and, when its content actually changed and
// validates, commits and publishes it.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.parse()
	if err != nil {
		m.log.Warn("config reload parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := configHash(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config file touched but content unchanged")
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config reload rejected, keeping previous", logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Debug("config reload accepted", logx.String("path", m.path))
}

func (m *Manager) scheduleReload(ctx context.Context) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(reloadDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		m.reload(ctx)
	})
}

// Watch follows the config file until ctx is cancelled. The parent
// directory is watched, not the file itself, so atomic rename-over
// saves keep working. Returns nil on cancellation and an error when the
// watcher itself gives out; the caller decides whether that is fatal.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watch started", logx.String("path", m.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event stream closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				m.scheduleReload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error stream closed")
			}
			if err == nil {
				continue
			}
			// An overflow may have swallowed the event we care about;
			// re-read the file once instead of trusting the stream.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				m.log.Warn("config watch overflow, forcing reload", logx.Err(err))
				m.scheduleReload(ctx)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
