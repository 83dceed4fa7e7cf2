// internal/drivercfg/store.go
package drivercfg

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
)

// Store holds loaded configs in load order.
type Store struct {
	mu      sync.RWMutex
	configs []*Config
	logger  *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Load parses doc and adds the resulting config.
func (s *Store) Load(doc []byte) (*Config, error) {
	cfg, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	s.Add(cfg)
	return cfg, nil
}

// LoadWithID is Load for a definition that already has a stable ID, such
// as one restored from the database.
func (s *Store) LoadWithID(id string, doc []byte) (*Config, error) {
	cfg, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	if id != "" {
		cfg.ID = id
	}
	s.Add(cfg)
	return cfg, nil
}

// Add makes a parsed config visible to Find and the interpreter.
func (s *Store) Add(cfg *Config) {
	cfg.LoadedAt = time.Now()
	cfg.setState(StateReady)

	s.mu.Lock()
	s.configs = append(s.configs, cfg)
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("driver_id", cfg.ID),
		zap.String("display_name", cfg.DisplayName),
		zap.Strings("functions", cfg.FunctionNames()),
		zap.Strings("events", cfg.EventNames()),
		zap.Bool("auto_match", cfg.AutoMatches()),
	}
	s.logger.Info("Driver definition loaded", fields...)
	for _, w := range cfg.Warnings {
		s.logger.Warn("Driver definition section skipped",
			zap.String("display_name", cfg.DisplayName),
			zap.String("reason", w),
		)
	}
}

// LoadFile loads one definition from disk.
func (s *Store) LoadFile(path string) (*Config, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read driver definition: %w", err)
	}
	cfg, err := s.Load(doc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadDir loads every *.json file in dir in lexical order. Files that fail
// to load are logged and skipped.
func (s *Store) LoadDir(dir string) ([]*Config, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	loaded := make([]*Config, 0, len(paths))
	for _, p := range paths {
		cfg, err := s.LoadFile(p)
		if err != nil {
			s.logger.Error("Driver definition rejected", zap.String("path", p), zap.Error(err))
			continue
		}
		loaded = append(loaded, cfg)
	}
	return loaded, nil
}

// Unload removes cfg and releases what it owns. The handle must not be used
// afterwards.
func (s *Store) Unload(cfg *Config) bool {
	s.mu.Lock()
	i := slices.Index(s.configs, cfg)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.configs = slices.Delete(slices.Clone(s.configs), i, i+1)
	s.mu.Unlock()

	cfg.release()
	s.logger.Info("Driver definition unloaded",
		zap.String("driver_id", cfg.ID),
		zap.String("display_name", cfg.DisplayName),
	)
	return true
}

// Find returns the first config, in load order, whose match rule accepts q.
func (s *Store) Find(q Query) (*Config, bool) {
	for _, cfg := range s.Configs() {
		if cfg.Match.Matches(q) {
			return cfg, true
		}
	}
	return nil, false
}

// FindFor matches a discovered descriptor. Unidentified devices never match.
func (s *Store) FindFor(desc bus.Descriptor) (*Config, bool) {
	q, ok := QueryFor(desc)
	if !ok {
		return nil, false
	}
	return s.Find(q)
}

// Get returns the config with the given ID.
func (s *Store) Get(id string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return nil, false
}

// Configs returns a snapshot in load order.
func (s *Store) Configs() []*Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.configs)
}

// Enumerate calls cb for each config in load order and returns the count.
func (s *Store) Enumerate(cb func(*Config)) int {
	configs := s.Configs()
	for _, cfg := range configs {
		cb(cfg)
	}
	return len(configs)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}
