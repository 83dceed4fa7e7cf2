package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"maus-bus/internal/bus"
)

func TestDumpBuiltDescriptor(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-vid", "0x1234", "-features", "serial,gpio"}, nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	s := out.String()
	for _, want := range []string{"guard", "0xCAFE", "0x1234", "\"Maus-Tec Electronics\"", "valid=true", "[serial gpio]", "00000000  fe ca 34 12"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestDumpHexInput(t *testing.T) {
	raw, _ := bus.Descriptor{Guard: bus.GuardSentinel, VendorID: 7, ProductName: "X"}.MarshalBinary()
	var out bytes.Buffer
	if err := run([]string{"-hex", hex.EncodeToString(raw)}, nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "0x0007") || !strings.Contains(out.String(), `"X"`) {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestDumpStdinShort(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-in", "-"}, bytes.NewReader([]byte{0xFE, 0xCA}), &out)
	if err == nil {
		t.Fatal("short descriptor accepted")
	}
}

func TestUnknownFeature(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-features", "usb"}, nil, &out); err == nil {
		t.Fatal("unknown feature accepted")
	}
}
