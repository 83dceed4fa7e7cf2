// internal/drivercfg/sysfunc.go
package drivercfg

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
)

// SystemFunc is a native callback available to every loaded config by name.
type SystemFunc func(ctx context.Context, cfg *Config, args json.RawMessage) error

// SystemFunctions is the registry of native callbacks. Entries are added by
// host initialization code only.
type SystemFunctions struct {
	mu  sync.RWMutex
	fns map[string]SystemFunc
}

func NewSystemFunctions() *SystemFunctions {
	return &SystemFunctions{fns: make(map[string]SystemFunc)}
}

// Register adds fn under name, replacing any previous entry.
func (s *SystemFunctions) Register(name string, fn SystemFunc) error {
	if name == "" {
		return errors.New("drivercfg: system function needs a name")
	}
	if fn == nil {
		return errors.New("drivercfg: system function " + name + " is nil")
	}
	s.mu.Lock()
	s.fns[name] = fn
	s.mu.Unlock()
	return nil
}

func (s *SystemFunctions) Lookup(name string) (SystemFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.fns[name]
	return fn, ok
}

// Names lists registered functions in lexical order.
func (s *SystemFunctions) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.fns))
	for n := range s.fns {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
