package discovery

import (
	"context"
	"testing"

	"maus-bus/internal/bus"
	"maus-bus/internal/transport/sim"
)

func testDescriptor(vid, pid uint16, product string, features bus.Features) bus.Descriptor {
	return bus.Descriptor{
		Guard:       bus.GuardSentinel,
		VendorID:    vid,
		ProductID:   pid,
		Features:    features,
		VendorName:  "Maus-Tec Electronics",
		ProductName: product,
	}
}

func newTestScanner() (*Scanner, *sim.Bus) {
	s := sim.New()
	return NewScanner(bus.New(s), nil), s
}

func TestScanQuickFindsIdentifiedDevices(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", bus.FeatureSerial))

	var seen []string
	n := sc.ScanQuick(context.Background(), func(d bus.Descriptor, a bus.Address) {
		seen = append(seen, a.String()+"="+d.ProductName)
	})
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	if len(seen) != 1 || seen[0] != "50=MB-232T" {
		t.Fatalf("callbacks = %v", seen)
	}
	e := sc.Entries()[0]
	if e.Status != StatusConnected || e.Address.Depth() != 1 {
		t.Fatalf("entry = %+v", e)
	}
}

func TestScanQuickSkipsUninitializedStorage(t *testing.T) {
	sc, s := newTestScanner()
	dev := s.Attach(0x50)
	dev.Load(0x00, []byte{0xFF, 0xFF})
	s.Attach(bus.SignalAddress).ReadErr = bus.ErrTimeout

	if n := sc.ScanQuick(context.Background(), nil); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
	if sc.Len() != 0 {
		t.Fatalf("entries = %d", sc.Len())
	}
}

func TestScanQuickAccumulatesUntilCleared(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", bus.FeatureSerial))
	ctx := context.Background()

	sc.ScanQuick(ctx, nil)
	sc.ScanQuick(ctx, nil)
	if sc.Len() != 2 {
		t.Fatalf("entries = %d, want duplicates to accumulate", sc.Len())
	}

	sc.Clear()
	if _, ok := sc.Find(bus.MustAddress(0x50)); ok {
		t.Fatal("entry still found after Clear")
	}
}

func TestScanFullProbesRemainingAddresses(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", bus.FeatureSerial))
	s.Attach(0x20)
	s.Attach(0x4D)
	s.Attach(bus.SignalAddress)
	s.Attach(0x53) // internal, must stay invisible

	var order []string
	n := sc.ScanFull(context.Background(), func(_ bus.Descriptor, a bus.Address) {
		order = append(order, a.String())
	})
	if n != 4 {
		t.Fatalf("count = %d, want 4 (%v)", n, order)
	}
	want := []string{"50", "20", "4D", "69"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("discovery order = %v, want %v", order, want)
		}
	}

	if _, ok := sc.Find(bus.MustAddress(0x53)); ok {
		t.Fatal("ignored address reported")
	}

	d, ok := sc.Find(bus.MustAddress(0x20))
	if !ok || !d.Unknown() {
		t.Fatalf("0x20 should be an unknown device: %+v", d)
	}
	if d.ProductName != "<Unknown 0x20 - 0>" {
		t.Fatalf("product name = %q", d.ProductName)
	}
	if d.Features.TSCode() {
		t.Fatal("0x20 must not advertise signaling")
	}

	sig, ok := sc.Find(bus.MustAddress(bus.SignalAddress))
	if !ok || !sig.Features.TSCode() {
		t.Fatalf("0x69 should advertise signaling: %+v", sig)
	}

	if d, _ := sc.Find(bus.MustAddress(0x50)); !d.Valid() {
		t.Fatal("identified device was replaced by a placeholder")
	}
}

func TestScanFullDoesNotProbeKnownOrIgnoredAddresses(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", 0))

	sc.ScanFull(context.Background(), nil)
	_, probes := s.Stats()

	// 126 candidate addresses, minus seven ignored, minus 0x50 already known.
	if want := MaxScanAddress - len(ignored) - 1; probes != want {
		t.Fatalf("probes = %d, want %d", probes, want)
	}
}

func TestScanFullStopsOnCancel(t *testing.T) {
	sc, s := newTestScanner()
	s.Attach(0x20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if n := sc.ScanFull(ctx, nil); n != 0 {
		t.Fatalf("count = %d after cancel", n)
	}
}

func TestRefreshUpdatesStatus(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", 0))
	s.Attach(0x20)
	s.Attach(0x21)
	ctx := context.Background()
	sc.ScanFull(ctx, nil)

	s.Detach(0x50)
	dev, _ := s.Device(0x21)
	dev.ProbeErr = bus.ErrTimeout

	got := map[string]Status{}
	for _, e := range sc.Refresh(ctx) {
		got[e.Address.String()] = e.Status
	}
	want := map[string]Status{
		"50": StatusDisconnected,
		"20": StatusProbed,
		"21": StatusTimeout,
	}
	for addr, st := range want {
		if got[addr] != st {
			t.Errorf("%s status = %v, want %v", addr, got[addr], st)
		}
	}
	if e, _ := sc.Lookup(bus.MustAddress(0x50)); e.Status != StatusDisconnected {
		t.Fatalf("stored status = %v", e.Status)
	}
}

func TestFindMissesMultiHopExtension(t *testing.T) {
	sc, s := newTestScanner()
	s.AttachEEPROM(0x50, testDescriptor(1, 1, "MB-232T", 0))
	sc.ScanQuick(context.Background(), nil)

	if _, ok := sc.Find(bus.MustAddress(0x50, 0x20)); ok {
		t.Fatal("two-hop address matched a one-hop entry")
	}
}
