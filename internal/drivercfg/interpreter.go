// internal/drivercfg/interpreter.go
package drivercfg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
)

// MaxCallDepth bounds nested local function calls.
const MaxCallDepth = 16

var (
	ErrUnresolved     = errors.New("drivercfg: unresolved callee")
	ErrCallDepth      = errors.New("drivercfg: call depth exceeded")
	ErrConfigUnloaded = errors.New("drivercfg: config unloaded")
)

// Resolution says where a callee name was found.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedLocal
	ResolvedSystem
)

func (r Resolution) String() string {
	switch r {
	case ResolvedLocal:
		return "local"
	case ResolvedSystem:
		return "system"
	default:
		return "unresolved"
	}
}

func (r Resolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Outcome records one executed action.
type Outcome struct {
	Callee     string     `json:"callee"`
	Resolution Resolution `json:"resolution"`
	Depth      int        `json:"depth"`
	Error      string     `json:"error,omitempty"`
}

// Report collects the outcome of every action an invocation ran, nested
// calls included, in execution order.
type Report struct {
	ConfigID string    `json:"config_id"`
	Config   string    `json:"config"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// Unresolved lists callees that resolved nowhere.
func (r *Report) Unresolved() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Resolution == Unresolved {
			out = append(out, o.Callee)
		}
	}
	return out
}

// Failed counts actions that were unresolved or returned an error.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Error != "" {
			n++
		}
	}
	return n
}

// Calls counts how many times callee was executed.
func (r *Report) Calls(callee string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Callee == callee && o.Resolution != Unresolved {
			n++
		}
	}
	return n
}

// Interpreter executes action lists against loaded configs.
type Interpreter struct {
	store  *Store
	system *SystemFunctions
	logger *zap.Logger
}

func NewInterpreter(store *Store, system *SystemFunctions, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if system == nil {
		system = NewSystemFunctions()
	}
	return &Interpreter{store: store, system: system, logger: logger}
}

func (in *Interpreter) SystemFunctions() *SystemFunctions { return in.system }

// Resolve reports where callee would be found for cfg: local functions
// first, then system functions.
func (in *Interpreter) Resolve(cfg *Config, callee string) Resolution {
	if cfg.HasFunction(callee) {
		return ResolvedLocal
	}
	if _, ok := in.system.Lookup(callee); ok {
		return ResolvedSystem
	}
	return Unresolved
}

// InvokeFunction runs the named function. A missing name returns
// ErrNotFound with an empty report; nothing runs.
func (in *Interpreter) InvokeFunction(ctx context.Context, cfg *Config, name string, arg json.RawMessage) (*Report, error) {
	return in.invokeNamed(ctx, cfg, "function", name, arg, cfg.Function)
}

// InvokeEvent notifies cfg of an external occurrence. arg is merged into
// each action's stored arguments.
func (in *Interpreter) InvokeEvent(ctx context.Context, cfg *Config, name string, arg json.RawMessage) (*Report, error) {
	return in.invokeNamed(ctx, cfg, "event", name, arg, cfg.Event)
}

func (in *Interpreter) invokeNamed(ctx context.Context, cfg *Config, kind, name string, arg json.RawMessage,
	lookup func(string) ([]Action, bool)) (*Report, error) {
	report := &Report{ConfigID: cfg.ID, Config: cfg.DisplayName, Kind: kind, Name: name}
	if cfg.State() == StateUnloaded {
		return report, ErrConfigUnloaded
	}
	actions, ok := lookup(name)
	if !ok {
		in.logger.Debug("Name not defined",
			zap.String("driver", cfg.DisplayName),
			zap.String("kind", kind),
			zap.String("name", name),
		)
		return report, fmt.Errorf("%w: %s %q in %s", bus.ErrNotFound, kind, name, cfg.DisplayName)
	}

	in.run(ctx, cfg, actions, arg, 0, report)

	if n := report.Failed(); n > 0 {
		in.logger.Warn("Action list completed with failures",
			zap.String("driver", cfg.DisplayName),
			zap.String("kind", kind),
			zap.String("name", name),
			zap.Int("failed", n),
			zap.Strings("unresolved", report.Unresolved()),
		)
	}
	return report, nil
}

// InvokeAction resolves and runs one ad-hoc action against cfg, with arg
// merged into its arguments the way event payloads are. The outcome is in
// the report; only an unloaded config is an error.
func (in *Interpreter) InvokeAction(ctx context.Context, cfg *Config, action Action, arg json.RawMessage) (*Report, error) {
	report := &Report{ConfigID: cfg.ID, Config: cfg.DisplayName, Kind: "action", Name: action.Callee}
	if cfg.State() == StateUnloaded {
		return report, ErrConfigUnloaded
	}
	in.run(ctx, cfg, []Action{action}, arg, 0, report)
	return report, nil
}

// InvokeAllEvents broadcasts an event to every loaded config that defines
// it, in load order. Configs without the event are skipped.
func (in *Interpreter) InvokeAllEvents(ctx context.Context, name string, arg json.RawMessage) []*Report {
	var reports []*Report
	for _, cfg := range in.store.Configs() {
		if !cfg.HasEvent(name) {
			continue
		}
		report, err := in.InvokeEvent(ctx, cfg, name, arg)
		if err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

// run executes actions in order. No failure stops the list.
func (in *Interpreter) run(ctx context.Context, cfg *Config, actions []Action, arg json.RawMessage, depth int, report *Report) {
	for _, action := range actions {
		if ctx.Err() != nil {
			report.Outcomes = append(report.Outcomes, Outcome{
				Callee: action.Callee,
				Depth:  depth,
				Error:  ctx.Err().Error(),
			})
			continue
		}
		args := MergeArgs(action.Args, arg)

		switch in.Resolve(cfg, action.Callee) {
		case ResolvedLocal:
			o := Outcome{Callee: action.Callee, Resolution: ResolvedLocal, Depth: depth}
			if depth+1 >= MaxCallDepth {
				o.Error = ErrCallDepth.Error()
				report.Outcomes = append(report.Outcomes, o)
				continue
			}
			report.Outcomes = append(report.Outcomes, o)
			nested, _ := cfg.Function(action.Callee)
			in.run(ctx, cfg, nested, args, depth+1, report)

		case ResolvedSystem:
			fn, _ := in.system.Lookup(action.Callee)
			o := Outcome{Callee: action.Callee, Resolution: ResolvedSystem, Depth: depth}
			if err := in.callSystem(ctx, fn, cfg, args); err != nil {
				o.Error = err.Error()
				in.logger.Debug("System function failed",
					zap.String("driver", cfg.DisplayName),
					zap.String("callee", action.Callee),
					zap.Error(err),
				)
			}
			report.Outcomes = append(report.Outcomes, o)

		default:
			report.Outcomes = append(report.Outcomes, Outcome{
				Callee:     action.Callee,
				Resolution: Unresolved,
				Depth:      depth,
				Error:      ErrUnresolved.Error(),
			})
			in.logger.Warn("Unresolved callee",
				zap.String("driver", cfg.DisplayName),
				zap.String("callee", action.Callee),
			)
		}
	}
}

// callSystem shields the action list from a panicking native callback.
func (in *Interpreter) callSystem(ctx context.Context, fn SystemFunc, cfg *Config, args json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("system function panic: %v", r)
		}
	}()
	return fn(ctx, cfg, args)
}

// MergeArgs combines an action's stored arguments with an invocation
// payload. Empty stored args take the payload; an object without an "arg"
// key gains one holding the payload; anything else is kept as stored.
func MergeArgs(stored, payload json.RawMessage) json.RawMessage {
	if emptyJSON(payload) {
		return stored
	}
	if emptyJSON(stored) {
		return payload
	}
	s := trimJSON(stored)
	r := gjson.ParseBytes(s)
	if !r.IsObject() || r.Get("arg").Exists() {
		return stored
	}

	var buf bytes.Buffer
	buf.WriteString(`{"arg":`)
	buf.Write(trimJSON(payload))
	inner := bytes.TrimSpace(s[1 : len(s)-1])
	if len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// IntArg encodes an integer payload.
func IntArg(n int) json.RawMessage {
	return json.RawMessage(strconv.Itoa(n))
}
