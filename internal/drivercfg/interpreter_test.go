package drivercfg

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"maus-bus/internal/bus"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	config string
	callee string
	args   string
}

func (r *callRecorder) fn(callee string) SystemFunc {
	return func(_ context.Context, cfg *Config, args json.RawMessage) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, recordedCall{config: cfg.DisplayName, callee: callee, args: string(args)})
		return nil
	}
}

func (r *callRecorder) count(callee string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.callee == callee {
			n++
		}
	}
	return n
}

func newInterpreter(t *testing.T, names ...string) (*Interpreter, *Store, *callRecorder) {
	t.Helper()
	store := NewStore(nil)
	sys := NewSystemFunctions()
	rec := &callRecorder{}
	for _, n := range names {
		if err := sys.Register(n, rec.fn(n)); err != nil {
			t.Fatal(err)
		}
	}
	return NewInterpreter(store, sys, nil), store, rec
}

func TestBlinkResolvesSystemFunctionOnce(t *testing.T) {
	in, store, rec := newInterpreter(t, "gpioToggle")
	cfg := mustLoad(t, store, `{"functions": {"blink": "gpioToggle"}}`)

	report, err := in.InvokeFunction(context.Background(), cfg, "blink", IntArg(0))
	if err != nil {
		t.Fatal(err)
	}
	if rec.count("gpioToggle") != 1 {
		t.Fatalf("gpioToggle calls = %d", rec.count("gpioToggle"))
	}
	if report.Calls("gpioToggle") != 1 || report.Outcomes[0].Resolution != ResolvedSystem {
		t.Fatalf("report = %+v", report)
	}
}

func TestLocalFunctionShadowsSystem(t *testing.T) {
	in, store, rec := newInterpreter(t, "gpioToggle", "log")
	cfg := mustLoad(t, store, `{"functions": {
		"blink": "gpioToggle",
		"gpioToggle": {"log": "shadowed"}
	}}`)

	if in.Resolve(cfg, "gpioToggle") != ResolvedLocal {
		t.Fatal("local function should win")
	}
	if _, err := in.InvokeFunction(context.Background(), cfg, "blink", nil); err != nil {
		t.Fatal(err)
	}
	if rec.count("gpioToggle") != 0 || rec.count("log") != 1 {
		t.Fatalf("calls = %+v", rec.calls)
	}
}

func TestUnresolvedCalleeDoesNotAbort(t *testing.T) {
	in, store, rec := newInterpreter(t, "log")
	cfg := mustLoad(t, store, `{"functions": {"seq": ["log", "nowhere", "log"]}}`)

	report, err := in.InvokeFunction(context.Background(), cfg, "seq", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.count("log") != 2 {
		t.Fatalf("log calls = %d, want 2", rec.count("log"))
	}
	if u := report.Unresolved(); len(u) != 1 || u[0] != "nowhere" {
		t.Fatalf("unresolved = %v", u)
	}
	if report.Failed() != 1 {
		t.Fatalf("failed = %d", report.Failed())
	}
}

func TestFailingSystemFunctionDoesNotAbort(t *testing.T) {
	in, store, rec := newInterpreter(t, "log")
	in.SystemFunctions().Register("boom", func(context.Context, *Config, json.RawMessage) error {
		return bus.ErrTimeout
	})
	in.SystemFunctions().Register("panic", func(context.Context, *Config, json.RawMessage) error {
		panic("bad callback")
	})
	cfg := mustLoad(t, store, `{"functions": {"seq": ["boom", "panic", "log"]}}`)

	report, _ := in.InvokeFunction(context.Background(), cfg, "seq", nil)
	if rec.count("log") != 1 || report.Failed() != 2 {
		t.Fatalf("log=%d failed=%d", rec.count("log"), report.Failed())
	}
}

func TestMissingNameIsReportedNotFatal(t *testing.T) {
	in, store, _ := newInterpreter(t)
	cfg := mustLoad(t, store, `{}`)

	report, err := in.InvokeFunction(context.Background(), cfg, "absent", nil)
	if !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if report == nil || len(report.Outcomes) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if _, err := in.InvokeEvent(context.Background(), cfg, "absent", nil); !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("event err = %v", err)
	}
}

func TestRecursionIsBounded(t *testing.T) {
	in, store, _ := newInterpreter(t)
	cfg := mustLoad(t, store, `{"functions": {"loop": "loop"}}`)

	report, err := in.InvokeFunction(context.Background(), cfg, "loop", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outcomes) != MaxCallDepth {
		t.Fatalf("outcomes = %d, want %d", len(report.Outcomes), MaxCallDepth)
	}
	last := report.Outcomes[len(report.Outcomes)-1]
	if last.Error != ErrCallDepth.Error() {
		t.Fatalf("last outcome = %+v", last)
	}
}

func TestInvokeAllEventsInLoadOrder(t *testing.T) {
	in, store, rec := newInterpreter(t, "log")
	mustLoad(t, store, `{"displayName": "first", "events": {"power-on": "log"}}`)
	mustLoad(t, store, `{"displayName": "silent", "events": {"other": "log"}}`)
	mustLoad(t, store, `{"displayName": "third", "events": {"power-on": {"log": {"level": "info"}}}}`)

	reports := in.InvokeAllEvents(context.Background(), "power-on", IntArg(1))
	if len(reports) != 2 {
		t.Fatalf("reports = %d", len(reports))
	}
	if len(rec.calls) != 2 {
		t.Fatalf("calls = %+v", rec.calls)
	}
	if rec.calls[0].config != "first" || rec.calls[1].config != "third" {
		t.Fatalf("order = %+v", rec.calls)
	}
	if rec.calls[0].args != `1` {
		t.Errorf("bare action args = %s", rec.calls[0].args)
	}
	if rec.calls[1].args != `{"arg":1,"level": "info"}` {
		t.Errorf("merged args = %s", rec.calls[1].args)
	}
}

func TestEventPayloadReachesNestedFunctions(t *testing.T) {
	in, store, rec := newInterpreter(t, "log")
	cfg := mustLoad(t, store, `{
		"functions": {"report": "log"},
		"events": {"signal": "report"}
	}`)
	if _, err := in.InvokeEvent(context.Background(), cfg, "signal", IntArg(42)); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 1 || rec.calls[0].args != "42" {
		t.Fatalf("calls = %+v", rec.calls)
	}
}

func TestMergeArgs(t *testing.T) {
	cases := []struct {
		name, stored, payload, want string
	}{
		{"no payload", `"x"`, ``, `"x"`},
		{"no stored", ``, `7`, `7`},
		{"null stored", `null`, `7`, `7`},
		{"empty object", `{}`, `7`, `{"arg":7}`},
		{"object", `{"pin": 3}`, `1`, `{"arg":1,"pin": 3}`},
		{"object with arg", `{"arg": 2}`, `1`, `{"arg": 2}`},
		{"scalar", `"hello"`, `1`, `"hello"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MergeArgs(json.RawMessage(tc.stored), json.RawMessage(tc.payload))
			if string(got) != tc.want {
				t.Fatalf("MergeArgs = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestInvokeAfterUnload(t *testing.T) {
	in, store, _ := newInterpreter(t, "log")
	cfg := mustLoad(t, store, `{"functions": {"f": "log"}}`)
	store.Unload(cfg)
	if _, err := in.InvokeFunction(context.Background(), cfg, "f", nil); !errors.Is(err, ErrConfigUnloaded) {
		t.Fatalf("err = %v", err)
	}
}

func TestInvokeAction(t *testing.T) {
	cases := []struct {
		name       string
		action     Action
		resolution []Resolution
		logCalls   int
		logArgs    string
		failed     int
	}{
		{
			name:       "system",
			action:     Action{Callee: "log", Args: json.RawMessage(`{"level":"debug"}`)},
			resolution: []Resolution{ResolvedSystem},
			logCalls:   1,
			logArgs:    `{"arg":5,"level":"debug"}`,
		},
		{
			name:       "local",
			action:     Action{Callee: "greet"},
			resolution: []Resolution{ResolvedLocal, ResolvedSystem},
			logCalls:   1,
			logArgs:    `5`,
		},
		{
			name:       "unresolved",
			action:     Action{Callee: "nowhere"},
			resolution: []Resolution{Unresolved},
			failed:     1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, store, rec := newInterpreter(t, "log")
			cfg := mustLoad(t, store, `{"functions": {"greet": "log"}}`)

			report, err := in.InvokeAction(context.Background(), cfg, tc.action, IntArg(5))
			if err != nil {
				t.Fatal(err)
			}
			if report.Kind != "action" || report.Name != tc.action.Callee {
				t.Fatalf("report = %+v", report)
			}
			if len(report.Outcomes) != len(tc.resolution) {
				t.Fatalf("outcomes = %+v", report.Outcomes)
			}
			for i, want := range tc.resolution {
				if report.Outcomes[i].Resolution != want || report.Outcomes[i].Depth != i {
					t.Errorf("outcome %d = %+v", i, report.Outcomes[i])
				}
			}
			if report.Failed() != tc.failed {
				t.Errorf("failed = %d", report.Failed())
			}
			if rec.count("log") != tc.logCalls {
				t.Fatalf("log calls = %d", rec.count("log"))
			}
			if tc.logCalls > 0 && rec.calls[0].args != tc.logArgs {
				t.Errorf("log args = %s, want %s", rec.calls[0].args, tc.logArgs)
			}
		})
	}
}

func TestInvokeActionAfterUnload(t *testing.T) {
	in, store, rec := newInterpreter(t, "log")
	cfg := mustLoad(t, store, `{}`)
	store.Unload(cfg)
	if _, err := in.InvokeAction(context.Background(), cfg, Action{Callee: "log"}, nil); !errors.Is(err, ErrConfigUnloaded) {
		t.Fatalf("err = %v", err)
	}
	if rec.count("log") != 0 {
		t.Fatal("action ran on an unloaded config")
	}
}
