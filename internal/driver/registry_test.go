package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver/pca9554"
	"maus-bus/internal/driver/sc16is740"
	"maus-bus/internal/transport/sim"
	pkgdriver "maus-bus/pkg/driver"
)

type fixture struct {
	sim      *sim.Bus
	scanner  *discovery.Scanner
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := sim.New()
	b := bus.New(s)
	sc := discovery.NewScanner(b, nil)
	r := NewRegistry(b, sc, nil)
	RegisterDefaultDrivers(r, DefaultChipAddresses, zap.NewNop())
	return &fixture{sim: s, scanner: sc, registry: r}
}

func descriptor(features bus.Features) bus.Descriptor {
	return bus.Descriptor{
		Guard:       bus.GuardSentinel,
		VendorID:    1,
		ProductID:   1,
		Features:    features,
		VendorName:  "Maus-Tec Electronics",
		ProductName: "MB-232T",
	}
}

func TestRegisterBindsByFeatureBits(t *testing.T) {
	cases := []struct {
		name     string
		features bus.Features
		uart     bool
		signal   bool
	}{
		{"serial", bus.FeatureSerial, true, false},
		{"tscode", bus.FeatureTSCode, false, true},
		{"serial wins over tscode", bus.FeatureSerial | bus.FeatureTSCode, true, false},
		{"serial with gpio", bus.FeatureSerial | bus.FeatureGPIO, true, false},
		{"gpio alone binds nothing", bus.FeatureGPIO, false, false},
		{"none", 0, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.sim.AttachEEPROM(0x50, descriptor(tc.features))
			f.sim.Attach(sc16is740.DefaultAddress)
			f.sim.Attach(pca9554.DefaultAddress)
			f.scanner.ScanQuick(context.Background(), nil)

			inst, err := f.registry.Register(context.Background(), bus.MustAddress(0x50))
			if err != nil {
				t.Fatal(err)
			}
			if (inst.UART != nil) != tc.uart {
				t.Errorf("uart bound = %v", inst.UART != nil)
			}
			if (inst.Signal != nil) != tc.signal {
				t.Errorf("signal bound = %v", inst.Signal != nil)
			}
			for _, c := range inst.Capabilities() {
				if c == pkgdriver.CapabilityGPIO {
					t.Error("gpio capability bound at registration")
				}
			}
			if !tc.uart && !tc.signal && inst.Transmitter() != nil {
				t.Error("transmitter bound without a transmit capability")
			}
		})
	}
}

func TestRegisterSerialInitializesUART(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(bus.FeatureSerial))
	chip := f.sim.Attach(sc16is740.DefaultAddress)
	f.scanner.ScanQuick(context.Background(), nil)

	if _, err := f.registry.Register(context.Background(), bus.MustAddress(0x50)); err != nil {
		t.Fatal(err)
	}
	if got := chip.Register(sc16is740.Subaddr(sc16is740.RegLCR)); got != 0x03 {
		t.Fatalf("LCR = 0x%02X, want 8N1", got)
	}
	if got := chip.Register(sc16is740.Subaddr(sc16is740.RegFCR)); got != 0x01 {
		t.Fatalf("FCR = 0x%02X, want FIFO enabled", got)
	}
}

func TestRegisterUARTInitFailure(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(bus.FeatureSerial))
	// No bridge chip attached.
	f.scanner.ScanQuick(context.Background(), nil)

	_, err := f.registry.Register(context.Background(), bus.MustAddress(0x50))
	if !errors.Is(err, bus.ErrFail) || bus.CodeOf(err) != bus.Fail {
		t.Fatalf("want Fail, got %v", err)
	}
	if f.registry.Len() != 0 {
		t.Fatal("failed registration left an instance behind")
	}
}

func TestRegisterUnknownAddressLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(0))
	f.scanner.ScanQuick(context.Background(), nil)
	if _, err := f.registry.Register(context.Background(), bus.MustAddress(0x50)); err != nil {
		t.Fatal(err)
	}

	_, err := f.registry.Register(context.Background(), bus.MustAddress(0x22))
	if !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if f.registry.Len() != 1 {
		t.Fatalf("size = %d, want 1", f.registry.Len())
	}
}

func TestRegisterAfterClearFails(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(0))
	f.scanner.ScanQuick(context.Background(), nil)
	f.scanner.Clear()

	if _, err := f.registry.Register(context.Background(), bus.MustAddress(0x50)); !errors.Is(err, bus.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSignalListenerFromFullScan(t *testing.T) {
	f := newFixture(t)
	f.sim.Attach(bus.SignalAddress)
	f.scanner.ScanFull(context.Background(), nil)

	inst, err := f.registry.Register(context.Background(), bus.MustAddress(bus.SignalAddress))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Signal == nil || inst.UART != nil {
		t.Fatalf("capabilities = %v", inst.Capabilities())
	}
	if err := inst.Transmitter().Transmit(context.Background(), []byte{0x01, 0xAA}); err != nil {
		t.Fatal(err)
	}
}

func TestReRegistrationReplacesInPlace(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(0))
	f.sim.Attach(0x20)
	f.sim.Attach(0x21)
	ctx := context.Background()
	f.scanner.ScanFull(ctx, nil)

	for _, a := range []byte{0x50, 0x20, 0x21} {
		if _, err := f.registry.Register(ctx, bus.MustAddress(a)); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := f.registry.Get(bus.MustAddress(0x20))
	again, err := f.registry.Register(ctx, bus.MustAddress(0x20))
	if err != nil {
		t.Fatal(err)
	}
	if first == again {
		t.Fatal("instance was mutated instead of replaced")
	}

	var order []string
	f.registry.Enumerate(func(_ *Instance, _ bus.Descriptor, addr bus.Address) {
		order = append(order, addr.String())
	})
	want := []string{"50", "20", "21"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(0))
	f.scanner.ScanQuick(context.Background(), nil)
	f.registry.Register(context.Background(), bus.MustAddress(0x50))

	snapshot := f.registry.Instances()
	if !f.registry.Unregister(bus.MustAddress(0x50)) {
		t.Fatal("unregister reported nothing removed")
	}
	if f.registry.Unregister(bus.MustAddress(0x50)) {
		t.Fatal("second unregister removed something")
	}
	if len(snapshot) != 1 || f.registry.Len() != 0 {
		t.Fatalf("snapshot=%d len=%d", len(snapshot), f.registry.Len())
	}
}

func TestExpanderByChip(t *testing.T) {
	f := newFixture(t)
	def := f.sim.Attach(pca9554.DefaultAddress)
	alt := f.sim.Attach(pca9554.AlternateAddress)
	ctx := context.Background()

	g, err := f.registry.Expander(0)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := f.registry.Expander(pca9554.DefaultAddress); again != g {
		t.Fatal("default chip resolved to a second driver")
	}
	if err := g.Set(ctx, 1, pkgdriver.High); err != nil {
		t.Fatal(err)
	}
	a, err := f.registry.Expander(pca9554.AlternateAddress)
	if err != nil || a == g {
		t.Fatalf("alternate chip: %v", err)
	}
	if err := a.Set(ctx, 7, pkgdriver.High); err != nil {
		t.Fatal(err)
	}
	if def.Register(pca9554.RegOutput) != 0x02 || alt.Register(pca9554.RegOutput) != 0x80 {
		t.Fatalf("outputs = %08b %08b", def.Register(pca9554.RegOutput), alt.Register(pca9554.RegOutput))
	}
}

func TestExpanderWithoutDriver(t *testing.T) {
	s := sim.New()
	b := bus.New(s)
	r := NewRegistry(b, discovery.NewScanner(b, nil), nil)
	if _, err := r.Expander(0); !errors.Is(err, bus.ErrNotSupported) {
		t.Fatalf("err = %v", err)
	}
}

// Registration copies the scan entry under the scan lock, so an instance
// never carries a descriptor torn by a concurrent Clear or rescan. Run
// with -race.
func TestRegisterConcurrentWithScanAndClear(t *testing.T) {
	f := newFixture(t)
	f.sim.AttachEEPROM(0x50, descriptor(bus.FeatureSerial))
	f.sim.Attach(sc16is740.DefaultAddress)
	ctx := context.Background()
	addr := bus.MustAddress(0x50)

	const rounds = 200
	var wg sync.WaitGroup
	errs := make(chan error, 4*rounds)
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				fn()
			}
		}()
	}

	run(func() { f.scanner.ScanFull(ctx, nil) })
	run(f.scanner.Clear)
	run(func() {
		inst, err := f.registry.Register(ctx, addr)
		switch {
		case errors.Is(err, bus.ErrNotFound):
		case err != nil:
			errs <- err
		case inst.Descriptor.ProductName != "MB-232T" || inst.UART == nil:
			errs <- errors.New("registered a torn entry")
		}
	})
	run(func() {
		f.registry.Enumerate(func(inst *Instance, desc bus.Descriptor, a bus.Address) {
			if !a.Equal(addr) || !desc.Valid() {
				errs <- errors.New("enumerated an inconsistent instance")
			}
		})
	})
	run(func() {
		if _, err := f.registry.Expander(0); err != nil {
			errs <- err
		}
	})

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
