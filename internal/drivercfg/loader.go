// internal/drivercfg/loader.go
package drivercfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// ErrInvalidDocument is returned when a definition is not a JSON object.
var ErrInvalidDocument = errors.New("drivercfg: definition must be a JSON object")

// maxNesting bounds array flattening in action lists.
const maxNesting = 32

// Parse builds a Config from a driver definition document. Loading is
// best-effort: sections that cannot be understood are skipped and recorded
// in Config.Warnings. Unknown top-level keys are ignored.
func Parse(doc []byte) (*Config, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidDocument)
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil, ErrInvalidDocument
	}

	cfg := newConfig()
	root.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "displayName":
			if value.Type == gjson.String {
				cfg.DisplayName = value.Str
			} else {
				cfg.warn("displayName: not a string")
			}
		case "match":
			cfg.Match = parseMatch(cfg, value)
		case "functions":
			parseActionMap(cfg, "functions", value, cfg.functions)
		case "events":
			parseActionMap(cfg, "events", value, cfg.events)
		case "variables":
			parseVariables(cfg, value)
		case "config":
			// Copy so the stored value is detached from the source document.
			cfg.config = json.RawMessage([]byte(value.Raw))
		}
		return true
	})
	return cfg, nil
}

func parseMatch(cfg *Config, v gjson.Result) *Match {
	if !v.IsObject() {
		cfg.warn("match: not an object")
		return nil
	}
	m := &Match{}
	v.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "vid":
			if n, ok := intValue(value); ok {
				m.VendorID = &n
			} else {
				cfg.warn("match.vid: not an integer")
			}
		case "pid":
			if n, ok := intValue(value); ok {
				m.ProductID = &n
			} else {
				cfg.warn("match.pid: not an integer")
			}
		case "serial":
			switch value.Type {
			case gjson.String:
				m.Serial = value.Str
			case gjson.Null:
			default:
				cfg.warn("match.serial: not a string")
			}
		}
		return true
	})
	return m
}

func parseActionMap(cfg *Config, section string, v gjson.Result, into map[string][]Action) {
	if !v.IsObject() {
		cfg.warn(section + ": not an object")
		return
	}
	v.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "" {
			cfg.warn(section + ": empty name")
			return true
		}
		into[name] = normalizeActions(cfg, section+"."+name, value, 0, nil)
		return true
	})
}

// normalizeActions flattens the loose action shapes into an ordered list:
// a string is a bare callee, an object holds {callee: args} pairs in
// document order, and arrays are flattened recursively.
func normalizeActions(cfg *Config, where string, v gjson.Result, depth int, out []Action) []Action {
	if depth > maxNesting {
		cfg.warn(where + ": nested too deeply")
		return out
	}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			out = normalizeActions(cfg, where, item, depth+1, out)
		}
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			callee := key.String()
			if callee == "" {
				cfg.warn(where + ": action with empty callee")
				return true
			}
			out = append(out, Action{Callee: callee, Args: rawArgs(value)})
			return true
		})
	case v.Type == gjson.String:
		if v.Str == "" {
			cfg.warn(where + ": action with empty callee")
			break
		}
		out = append(out, Action{Callee: v.Str})
	default:
		cfg.warn(fmt.Sprintf("%s: unsupported action %s", where, v.Type))
	}
	return out
}

func rawArgs(v gjson.Result) json.RawMessage {
	if v.Type == gjson.Null {
		return nil
	}
	return json.RawMessage([]byte(v.Raw))
}

func parseVariables(cfg *Config, v gjson.Result) {
	if !v.IsObject() {
		cfg.warn("variables: not an object")
		return
	}
	v.ForEach(func(key, value gjson.Result) bool {
		n, ok := intValue(value)
		if !ok {
			cfg.warn("variables." + key.String() + ": not an integer")
			return true
		}
		cfg.variables[key.String()] = n
		return true
	})
}

// intValue accepts JSON numbers and booleans, truncating fractions.
func intValue(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num > math.MaxInt32 || v.Num < math.MinInt32 {
			return 0, false
		}
		return int(v.Int()), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	}
	return 0, false
}
