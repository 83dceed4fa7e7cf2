package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"maus-bus/internal/bus"
	"maus-bus/internal/drivercfg"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid document", fmt.Errorf("load: %w", drivercfg.ErrInvalidDocument), http.StatusBadRequest},
		{"unloaded", drivercfg.ErrConfigUnloaded, http.StatusGone},
		{"not found", fmt.Errorf("%w: device 50", bus.ErrNotFound), http.StatusNotFound},
		{"timeout", bus.ErrTimeout, http.StatusGatewayTimeout},
		{"not supported", bus.ErrNotSupported, http.StatusNotImplemented},
		{"no memory", bus.ErrNoMemory, http.StatusInsufficientStorage},
		{"fail", bus.ErrFail, http.StatusBadGateway},
		{"uncoded", errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Fatalf("StatusForError = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBusLoggerStatusLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bl := NewBusLogger(zap.New(core), "70:50", "Maus-Tec", "MB-232T")

	bl.LogStatus("connected", "disconnected")
	bl.LogStatus("disconnected", "connected")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[1].Level != zapcore.InfoLevel {
		t.Fatalf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[0].ContextMap()["address"] != "70:50" {
		t.Fatalf("context = %v", entries[0].ContextMap())
	}
}

func TestOperationLoggerOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	op := NewOperationLogger(zap.New(core), "scan", "abc")

	op.Start()
	op.Error(bus.ErrTimeout)

	failed := logs.FilterMessage("Operation failed").All()
	if len(failed) != 1 {
		t.Fatalf("got %d failure entries", len(failed))
	}
	ctx := failed[0].ContextMap()
	if ctx["operation_id"] != "abc" || ctx["success"] != false {
		t.Fatalf("context = %v", ctx)
	}
}
