// internal/drivercfg/config.go
package drivercfg

import (
	"encoding/json"
	"path"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"maus-bus/internal/bus"
)

// DefaultDisplayName is used when a definition carries no displayName.
const DefaultDisplayName = "<untitled>"

// State is the lifecycle stage of a Config.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unloaded"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Action is one call inside a function or event: a callee name and its
// stored arguments as raw JSON. Args may be empty.
type Action struct {
	Callee string          `json:"callee"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// HasArgs reports whether the action carries a non-null argument.
func (a Action) HasArgs() bool { return !emptyJSON(a.Args) }

// Match selects which descriptors a config binds to. Nil fields are wildcards.
type Match struct {
	VendorID  *int   `json:"vid,omitempty"`
	ProductID *int   `json:"pid,omitempty"`
	Serial    string `json:"serial,omitempty"`
}

// Query is what Find compares a Match against.
type Query struct {
	VendorID  int
	ProductID int
	// Serial is nil when the caller has no serial to offer.
	Serial *string
}

// QueryFor builds a query from a descriptor. Placeholder descriptors of
// unidentified devices never produce a query.
func QueryFor(desc bus.Descriptor) (Query, bool) {
	if !desc.Valid() {
		return Query{}, false
	}
	serial := strconv.Itoa(int(desc.Serial))
	return Query{
		VendorID:  int(desc.VendorID),
		ProductID: int(desc.ProductID),
		Serial:    &serial,
	}, true
}

// Matches reports whether q satisfies every field the rule sets. Serial is
// a glob pattern; a pattern without metacharacters is plain equality.
func (m *Match) Matches(q Query) bool {
	if m == nil {
		return false
	}
	if m.VendorID != nil && *m.VendorID != q.VendorID {
		return false
	}
	if m.ProductID != nil && *m.ProductID != q.ProductID {
		return false
	}
	if m.Serial != "" {
		if q.Serial == nil {
			return false
		}
		ok, err := path.Match(m.Serial, *q.Serial)
		if err != nil {
			return m.Serial == *q.Serial
		}
		return ok
	}
	return true
}

// Config is a loaded driver definition. Functions, events and the opaque
// config are fixed after loading unless extended with Define*; variables
// change at runtime.
type Config struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Match       *Match    `json:"match,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	LoadedAt    time.Time `json:"loaded_at"`

	state atomic.Int32

	mu        sync.RWMutex
	functions map[string][]Action
	events    map[string][]Action
	variables map[string]int
	config    json.RawMessage
}

func newConfig() *Config {
	c := &Config{
		ID:          uuid.New().String(),
		DisplayName: DefaultDisplayName,
		functions:   make(map[string][]Action),
		events:      make(map[string][]Action),
		variables:   make(map[string]int),
	}
	c.setState(StateLoading)
	return c
}

func (c *Config) State() State { return State(c.state.Load()) }

func (c *Config) setState(s State) { c.state.Store(int32(s)) }

func (c *Config) warn(msg string) { c.Warnings = append(c.Warnings, msg) }

func (c *Config) String() string { return c.DisplayName }

// AutoMatches reports whether the config carries a match rule. Configs
// without one are only ever invoked explicitly.
func (c *Config) AutoMatches() bool { return c.Match != nil }

// Function returns a copy of the named function's action list.
func (c *Config) Function(name string) ([]Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acts, ok := c.functions[name]
	return slices.Clone(acts), ok
}

// Event returns a copy of the named event's action list.
func (c *Config) Event(name string) ([]Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acts, ok := c.events[name]
	return slices.Clone(acts), ok
}

func (c *Config) HasFunction(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.functions[name]
	return ok
}

func (c *Config) HasEvent(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.events[name]
	return ok
}

// FunctionNames lists defined functions in lexical order.
func (c *Config) FunctionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.functions)
}

// EventNames lists defined events in lexical order.
func (c *Config) EventNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.events)
}

// Variable returns the named variable, or 0 if it was never set.
func (c *Config) Variable(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.variables[name]
}

// SetVariable assigns a variable, creating it if needed.
func (c *Config) SetVariable(name string, v int) {
	c.mu.Lock()
	c.variables[name] = v
	c.mu.Unlock()
}

// AddVariable adds delta to a variable and returns the new value.
func (c *Config) AddVariable(name string, delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] += delta
	return c.variables[name]
}

// Variables returns a copy of every variable.
func (c *Config) Variables() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// RawConfig returns a copy of the opaque passthrough configuration.
func (c *Config) RawConfig() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.config)
}

// release drops everything the config owns.
func (c *Config) release() {
	c.mu.Lock()
	c.functions = make(map[string][]Action)
	c.events = make(map[string][]Action)
	c.variables = make(map[string]int)
	c.config = nil
	c.mu.Unlock()
	c.setState(StateUnloaded)
}

func sortedKeys(m map[string][]Action) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func emptyJSON(raw json.RawMessage) bool {
	t := trimJSON(raw)
	return len(t) == 0 || string(t) == "null"
}

func trimJSON(raw json.RawMessage) []byte {
	start, end := 0, len(raw)
	for start < end && isSpace(raw[start]) {
		start++
	}
	for end > start && isSpace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
