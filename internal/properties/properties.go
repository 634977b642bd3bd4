// Package properties provides server-wide typed properties with defaults.
// Values are read on every call, so a reloaded configuration takes effect
// without restarting components that hold a Properties.
package properties

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Properties interface {
	Bool(key string, def bool) bool
	Int64(key string, def int64) int64
	String(key string, def string) string
}

// Map is a Properties over a fixed set of string values.
type Map struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMap(values map[string]string) *Map {
	m := &Map{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Map) Set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

func (m *Map) lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Bool(key string, def bool) bool {
	v, ok := m.lookup(key)
	return boolOr(v, ok, def)
}

func (m *Map) Int64(key string, def int64) int64 {
	v, ok := m.lookup(key)
	return int64Or(v, ok, def)
}

func (m *Map) String(key string, def string) string {
	v, ok := m.lookup(key)
	return stringOr(v, ok, def)
}

// Viper reads properties from the [properties] table of a viper instance.
// Property names contain dots, so they are looked up in the table map rather
// than through viper's nested key syntax. Lookups read an immutable snapshot
// of the table, which Watch replaces whenever the file changes.
type Viper struct {
	table  string
	file   string
	values atomic.Pointer[map[string]string]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewViper snapshots the table of v. table defaults to "properties".
func NewViper(v *viper.Viper, table string) *Viper {
	if table == "" {
		table = "properties"
	}
	p := &Viper{table: table, file: v.ConfigFileUsed()}
	p.store(v.GetStringMapString(table))
	return p
}

func (p *Viper) store(raw map[string]string) {
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		// viper lower-cases keys
		values[strings.ToLower(k)] = v
	}
	p.values.Store(&values)
}

// Reload re-reads the configuration file into a fresh snapshot. On error the
// previous values stay in place.
func (p *Viper) Reload() error {
	if p.file == "" {
		return errors.New("properties: no configuration file")
	}
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(p.file)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reload %s: %w", p.file, err)
	}
	p.store(v.GetStringMapString(p.table))
	return nil
}

// Watch reloads the properties whenever the configuration file changes on
// disk, until Close. The directory is watched so editors that replace the
// file are followed.
func (p *Viper) Watch(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.file == "" {
		return errors.New("properties: no configuration file to watch")
	}
	file, err := filepath.Abs(p.file)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return errors.New("properties: already watching")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", file, err)
	}
	if err := w.Add(filepath.Dir(file)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", file, err)
	}
	p.watcher = w
	p.done = make(chan struct{})
	go p.watch(w, file, logger, p.done)
	return nil
}

func (p *Viper) watch(w *fsnotify.Watcher, file string, logger *slog.Logger, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := p.Reload(); err != nil {
				logger.Warn("properties reload failed, keeping previous values", "file", file, "error", err)
				continue
			}
			logger.Info("properties reloaded", "file", file, "op", ev.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("properties watch error", "file", file, "error", err)
		}
	}
}

// Close stops watching. It is a no-op when Watch was never called.
func (p *Viper) Close() error {
	p.mu.Lock()
	w, done := p.watcher, p.done
	p.watcher, p.done = nil, nil
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func (p *Viper) lookup(key string) (string, bool) {
	values := p.values.Load()
	if values == nil {
		return "", false
	}
	v, ok := (*values)[strings.ToLower(key)]
	return v, ok
}

func (p *Viper) Bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	return boolOr(v, ok, def)
}

func (p *Viper) Int64(key string, def int64) int64 {
	v, ok := p.lookup(key)
	return int64Or(v, ok, def)
}

func (p *Viper) String(key string, def string) string {
	v, ok := p.lookup(key)
	return stringOr(v, ok, def)
}

func boolOr(raw string, ok bool, def bool) bool {
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return b
}

func int64Or(raw string, ok bool, def int64) int64 {
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func stringOr(raw string, ok bool, def string) string {
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	return raw
}
