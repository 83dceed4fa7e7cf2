package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/config"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver"
	"maus-bus/internal/events"
	"maus-bus/internal/model"
	"maus-bus/internal/transport/sim"
)

func TestScanRegistersFoundDevices(t *testing.T) {
	f := newFixture(t, false)
	f.attachSerialBoard()
	found := f.events.Subscribe(events.DeviceFound)
	done := f.events.Subscribe(events.ScanCompleted)

	res, err := f.busSvc.Scan(context.Background(), model.ScanModeQuick, false, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Found != 1 || len(res.Registered) != 1 || res.Registered[0] != "50" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Entries) != 1 || !res.Entries[0].Registered {
		t.Fatalf("entries = %+v", res.Entries)
	}

	inst, err := f.busSvc.Instance(bus.MustAddress(0x50))
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if inst.UART == nil || inst.Signal != nil || len(inst.Capabilities()) != 2 {
		t.Fatalf("capabilities = %v", inst.Capabilities())
	}

	if e := waitFor(t, found, events.DeviceFound); e.Data["address"] != "50" {
		t.Fatalf("found event = %+v", e.Data)
	}
	if e := waitFor(t, done, events.ScanCompleted); e.Data["scan_id"] != res.ID {
		t.Fatalf("completed event = %+v", e.Data)
	}
	if last, ok := f.busSvc.LastScan(); !ok || last.ID != res.ID {
		t.Fatal("last scan not recorded")
	}
}

func TestScanWithoutRegister(t *testing.T) {
	f := newFixture(t, false)
	f.attachSerialBoard()

	res, err := f.busSvc.Scan(context.Background(), model.ScanModeQuick, false, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Found != 1 || len(res.Registered) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(f.busSvc.Instances()) != 0 {
		t.Fatal("device registered without request")
	}
}

func TestScanDefaultsToConfiguredMode(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.busSvc.Scan(context.Background(), "", false, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Mode != model.ScanModeQuick {
		t.Fatalf("mode = %s", res.Mode)
	}

	if _, err := f.busSvc.Scan(context.Background(), "deep", false, false); !errors.Is(err, bus.ErrNotSupported) {
		t.Fatalf("err = %v, want not supported", err)
	}
}

func TestScanFullFindsUnidentifiedDevices(t *testing.T) {
	f := newFixture(t, false)
	f.sim.Attach(0x30)

	res, err := f.busSvc.Scan(context.Background(), model.ScanModeFull, true, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var seen bool
	for _, e := range res.Entries {
		if e.Address == "30" && e.Status == discovery.StatusProbed.String() && !e.Descriptor.Valid {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("entries = %+v", res.Entries)
	}
}

func TestScanClearDropsPreviousResults(t *testing.T) {
	f := newFixture(t, false)
	f.attachSerialBoard()
	ctx := context.Background()

	f.busSvc.Scan(ctx, model.ScanModeQuick, false, false)
	f.busSvc.Scan(ctx, model.ScanModeQuick, false, false)
	if n := len(f.busSvc.Devices()); n != 2 {
		t.Fatalf("devices = %d, want accumulated duplicates", n)
	}

	f.busSvc.Scan(ctx, model.ScanModeQuick, true, false)
	if n := len(f.busSvc.Devices()); n != 1 {
		t.Fatalf("devices = %d after clearing scan", n)
	}

	f.busSvc.ClearDevices()
	if _, err := f.busSvc.Device(bus.MustAddress(0x50)); !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRegisterUnknownAddress(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.busSvc.Register(context.Background(), bus.MustAddress(0x50))
	if !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := f.busSvc.Instance(bus.MustAddress(0x50)); !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("instance err = %v", err)
	}
}

func TestUnregisterRunsHooks(t *testing.T) {
	f := newFixture(t, false)
	f.attachSerialBoard()
	ctx := context.Background()
	f.busSvc.Scan(ctx, model.ScanModeQuick, false, true)

	var removed []string
	f.busSvc.OnRemoved(func(_ context.Context, addr bus.Address) {
		removed = append(removed, addr.String())
	})
	removedEvents := f.events.Subscribe(events.DeviceRemoved)

	if !f.busSvc.Unregister(ctx, bus.MustAddress(0x50)) {
		t.Fatal("Unregister = false")
	}
	if f.busSvc.Unregister(ctx, bus.MustAddress(0x50)) {
		t.Fatal("second Unregister = true")
	}
	if len(removed) != 1 || removed[0] != "50" {
		t.Fatalf("hooks = %v", removed)
	}
	waitFor(t, removedEvents, events.DeviceRemoved)
}

func TestEnumerateDriversInRegistrationOrder(t *testing.T) {
	f := newFixture(t, false)
	f.sim.AttachEEPROM(0x50, accessory(1, 1, 1, bus.FeatureGPIO))
	f.sim.AttachEEPROM(bus.SignalAddress, accessory(1, 2, 1, bus.FeatureTSCode))
	ctx := context.Background()
	f.busSvc.Scan(ctx, model.ScanModeQuick, false, false)

	f.busSvc.Register(ctx, bus.MustAddress(bus.SignalAddress))
	f.busSvc.Register(ctx, bus.MustAddress(0x50))

	var order []string
	f.busSvc.EnumerateDrivers(func(_ *driver.Instance, _ bus.Descriptor, addr bus.Address) {
		order = append(order, addr.String())
	})
	if len(order) != 2 || order[0] != "69" || order[1] != "50" {
		t.Fatalf("order = %v", order)
	}
}

func TestCheckPresenceReportsTransitions(t *testing.T) {
	f := newFixture(t, false)
	f.attachSerialBoard()
	ctx := context.Background()
	f.busSvc.Scan(ctx, model.ScanModeQuick, false, true)
	status := f.events.Subscribe(events.DeviceStatus)

	if changes := f.busSvc.CheckPresence(ctx); len(changes) != 0 {
		t.Fatalf("changes = %+v while present", changes)
	}

	f.sim.Detach(0x50)
	changes := f.busSvc.CheckPresence(ctx)
	if len(changes) != 1 || changes[0].New != discovery.StatusDisconnected {
		t.Fatalf("changes = %+v", changes)
	}
	if e := waitFor(t, status, events.DeviceStatus); e.Data["new_status"] != "disconnected" {
		t.Fatalf("event = %+v", e.Data)
	}

	before, _ := f.busSvc.Instance(bus.MustAddress(0x50))
	f.sim.AttachEEPROM(0x50, accessory(0x1234, 0x0001, 42, bus.FeatureSerial|bus.FeatureGPIO))
	changes = f.busSvc.CheckPresence(ctx)
	if len(changes) != 1 || changes[0].New != discovery.StatusConnected {
		t.Fatalf("changes = %+v", changes)
	}
	after, _ := f.busSvc.Instance(bus.MustAddress(0x50))
	if after == before {
		t.Fatal("returning device was not re-registered")
	}
}

func TestDeviceDoesNotWaitForRunningScan(t *testing.T) {
	s := sim.New()
	s.AttachEEPROM(0x50, accessory(1, 1, 1, 0))
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	gated := bus.TransportFuncs{
		ReadFunc:  s.Read,
		WriteFunc: s.Write,
		ProbeFunc: func(ctx context.Context, addr byte) error {
			if addr == 0x60 {
				once.Do(func() { close(entered) })
				<-release
			}
			return s.Probe(ctx, addr)
		},
	}

	b := bus.New(gated)
	logger := zap.NewNop()
	eb := events.NewBus(logger)
	go eb.Start()
	t.Cleanup(eb.Stop)
	scanner := discovery.NewScanner(b, logger)
	svc := NewBusService(scanner, driver.NewRegistry(b, scanner, logger), eb, &config.BusConfig{ScanMode: "quick"}, logger)

	ctx := context.Background()
	scanner.ScanQuick(ctx, nil)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner.ScanFull(ctx, nil)
	}()
	defer func() {
		close(release)
		<-scanDone
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("full scan never reached the gated address")
	}

	got := make(chan error, 1)
	go func() {
		_, err := svc.Device(bus.MustAddress(0x50))
		got <- err
	}()
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Device: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Device blocked behind a running scan")
	}
}
