// Package manifest handles mote.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/mote/heap"
	"github.com/chazu/mote/vm"
)

// FileName is the name of the configuration file.
const FileName = "mote.toml"

// Manifest represents a mote.toml project configuration.
type Manifest struct {
	Project Project    `toml:"project"`
	Heap    HeapConfig `toml:"heap"`
	GC      GCConfig   `toml:"gc"`
	Log     LogConfig  `toml:"log"`
	REPL    REPLConfig `toml:"repl"`

	// Dir is the directory containing the mote.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// HeapConfig sizes the arena.
type HeapConfig struct {
	Size      int    `toml:"size"`
	Placement string `toml:"placement"`
}

// GCConfig tunes the collector. A threshold of zero selects a quarter of
// the heap size; a negative threshold disables automatic collection.
type GCConfig struct {
	Threshold     int    `toml:"threshold"`
	Strict        bool   `toml:"strict"`
	MaxScopeDepth int    `toml:"max-scope-depth"`
	Journal       string `toml:"journal"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// REPLConfig configures the interactive prompt.
type REPLConfig struct {
	History string `toml:"history"`
}

// Default returns the configuration used when no mote.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Heap.Size == 0 {
		m.Heap.Size = heap.DefaultCapacity
	}
	if m.Heap.Placement == "" {
		m.Heap.Placement = heap.FirstFit{}.Name()
	}
	if m.GC.MaxScopeDepth == 0 {
		m.GC.MaxScopeDepth = vm.DefaultMaxScopeDepth
	}
}

// Load parses a mote.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a mote.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values that toml decoding cannot.
func (m *Manifest) Validate() error {
	if m.Heap.Size < 0 {
		return fmt.Errorf("heap.size must not be negative, got %d", m.Heap.Size)
	}
	if _, err := heap.PlacementByName(m.Heap.Placement); err != nil {
		return fmt.Errorf("heap.placement: %w", err)
	}
	if m.GC.MaxScopeDepth < 0 {
		return fmt.Errorf("gc.max-scope-depth must not be negative, got %d", m.GC.MaxScopeDepth)
	}
	if m.Log.Verbosity < -4 {
		return fmt.Errorf("log.verbosity must be at least -4, got %d", m.Log.Verbosity)
	}
	return nil
}

// Write saves m as dir/mote.toml, refusing to overwrite an existing file.
func Write(dir string, m *Manifest) error {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// Options returns the interpreter options the manifest selects.
func (m *Manifest) Options() ([]vm.Option, error) {
	placement, err := heap.PlacementByName(m.Heap.Placement)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.WithCapacity(m.Heap.Size),
		vm.WithPlacement(placement),
		vm.WithGCThreshold(m.GC.Threshold),
		vm.WithStrict(m.GC.Strict),
		vm.WithMaxScopeDepth(m.GC.MaxScopeDepth),
	}, nil
}

// GCThreshold returns the automatic collection threshold in bytes. It is
// derived from the heap size when unset, so it follows later changes to
// Heap.Size.
func (m *Manifest) GCThreshold() int {
	if m.GC.Threshold == 0 {
		return vm.DefaultGCThreshold(m.Heap.Size)
	}
	return m.GC.Threshold
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry script, or "".
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// JournalPath returns the absolute path of the GC journal database, or ""
// when journaling is off.
func (m *Manifest) JournalPath() string {
	return m.resolve(m.GC.Journal)
}

// LogFilePath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	return m.resolve(m.Log.File)
}

// HistoryPath returns the REPL history file, defaulting to ~/.mote_history.
func (m *Manifest) HistoryPath() string {
	if m.REPL.History != "" {
		return m.resolve(m.REPL.History)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mote_history")
}
