// internal/driver/registry.go
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/discovery"
	"maus-bus/pkg/driver"
)

// EntrySource is the scan result set registration reads from. Lookup must
// return a copy taken under the lock that guards clears.
type EntrySource interface {
	Lookup(addr bus.Address) (discovery.ScanEntry, bool)
}

// Factories build capability bindings for a registered device. A nil
// factory leaves that capability unbound. GPIO is never bound to an
// instance; expanders are addressed by chip and built on demand.
type (
	UARTFactory   func(ctx context.Context, b *bus.Bus, addr bus.Address, mode driver.UARTMode) (driver.UART, error)
	SignalFactory func(b *bus.Bus, addr bus.Address) driver.Transmitter
	GPIOFactory   func(b *bus.Bus, chip byte) driver.GPIO
)

// Instance is a device bound to its native capabilities. Instances are
// never mutated; re-registration replaces them.
type Instance struct {
	Address      bus.Address
	Descriptor   bus.Descriptor
	UART         driver.UART
	Signal       driver.Transmitter
	RegisteredAt time.Time
}

// Transmitter returns whichever transmit path is bound, or nil.
func (i *Instance) Transmitter() driver.Transmitter {
	if i.UART != nil {
		return i.UART
	}
	if i.Signal != nil {
		return i.Signal
	}
	return nil
}

// Capabilities lists the bound capability names.
func (i *Instance) Capabilities() []string {
	caps := make([]string, 0, 2)
	if i.UART != nil {
		caps = append(caps, driver.CapabilityUART)
	}
	if i.Transmitter() != nil {
		caps = append(caps, driver.CapabilityTransmit)
	}
	return caps
}

// Registry manages device registration and the bound instances.
type Registry struct {
	bus    *bus.Bus
	source EntrySource
	logger *zap.Logger

	factoryMu sync.RWMutex
	uart      UARTFactory
	signal    SignalFactory
	gpio      GPIOFactory
	gpioChip  byte
	expanders map[byte]driver.GPIO

	mu        sync.RWMutex
	instances []*Instance
}

// NewRegistry creates a new driver registry
func NewRegistry(b *bus.Bus, source EntrySource, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bus:    b,
		source: source,
		logger: logger,
	}
}

// RegisterUART installs the factory used for serial-capable devices.
func (r *Registry) RegisterUART(name string, f UARTFactory) {
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()
	r.uart = f
	r.logger.Info("Driver registered", zap.String("capability", driver.CapabilityUART), zap.String("driver", name))
}

// RegisterSignal installs the factory used for signaling devices.
func (r *Registry) RegisterSignal(name string, f SignalFactory) {
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()
	r.signal = f
	r.logger.Info("Driver registered", zap.String("capability", driver.CapabilityTransmit), zap.String("driver", name))
}

// RegisterGPIO installs the I/O expander factory. defaultChip is the chip
// Expander(0) resolves to. Expanders built by a previous factory are
// discarded.
func (r *Registry) RegisterGPIO(name string, defaultChip byte, f GPIOFactory) {
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()
	r.gpio = f
	r.gpioChip = defaultChip
	r.expanders = nil
	r.logger.Info("Driver registered",
		zap.String("capability", driver.CapabilityGPIO),
		zap.String("driver", name),
		zap.Uint8("chip", defaultChip),
	)
}

// Expander returns the I/O expander at chip, or at the default chip when
// chip is 0. One driver is kept per chip so read-modify-write cycles on
// the same chip serialize.
func (r *Registry) Expander(chip byte) (driver.GPIO, error) {
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()
	if r.gpio == nil {
		return nil, fmt.Errorf("%w: no GPIO driver registered", bus.ErrNotSupported)
	}
	if chip == 0 {
		chip = r.gpioChip
	}
	if g, ok := r.expanders[chip]; ok {
		return g, nil
	}
	if r.expanders == nil {
		r.expanders = make(map[byte]driver.GPIO)
	}
	g := r.gpio(r.bus, chip)
	r.expanders[chip] = g
	return g, nil
}

func (r *Registry) factories() (UARTFactory, SignalFactory) {
	r.factoryMu.RLock()
	defer r.factoryMu.RUnlock()
	return r.uart, r.signal
}

// Register binds the device found by the current scan at addr. The serial
// bit takes precedence over signaling; nothing else is bound. A device
// with no usable feature still registers, with nothing bound.
func (r *Registry) Register(ctx context.Context, addr bus.Address) (*Instance, error) {
	entry, ok := r.source.Lookup(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no scan entry at %s", bus.ErrNotFound, addr)
	}

	inst, err := r.build(ctx, entry)
	if err != nil {
		r.logger.Error("Device registration failed",
			zap.Stringer("address", addr),
			zap.Error(err),
		)
		return nil, err
	}

	r.mu.Lock()
	replaced := false
	for i, existing := range r.instances {
		if existing.Address.Equal(addr) {
			r.instances[i] = inst
			replaced = true
			break
		}
	}
	if !replaced {
		r.instances = append(r.instances, inst)
	}
	r.mu.Unlock()

	r.logger.Info("Device registered",
		zap.Stringer("address", addr),
		zap.String("product", entry.Descriptor.ProductName),
		zap.Strings("capabilities", inst.Capabilities()),
		zap.Bool("replaced", replaced),
	)
	return inst, nil
}

func (r *Registry) build(ctx context.Context, entry discovery.ScanEntry) (*Instance, error) {
	uartFn, signalFn := r.factories()
	desc := entry.Descriptor
	inst := &Instance{
		Address:      entry.Address,
		Descriptor:   desc,
		RegisteredAt: time.Now(),
	}

	switch {
	case desc.Features.Serial():
		if uartFn == nil {
			r.logger.Warn("No UART driver available", zap.Stringer("address", entry.Address))
			break
		}
		uart, err := uartFn(ctx, r.bus, entry.Address, driver.DefaultUARTMode)
		if err != nil {
			return nil, fmt.Errorf("%w: uart init at %s: %w", bus.ErrFail, entry.Address, err)
		}
		inst.UART = uart
	case desc.Features.TSCode():
		if signalFn != nil {
			inst.Signal = signalFn(r.bus, entry.Address)
		}
	}
	return inst, nil
}

// EnumerateFunc receives each registered instance.
type EnumerateFunc func(inst *Instance, desc bus.Descriptor, addr bus.Address)

// Enumerate calls cb once per instance in registration order. It iterates a
// snapshot, so cb may register or unregister devices.
func (r *Registry) Enumerate(cb EnumerateFunc) {
	for _, inst := range r.Instances() {
		cb(inst, inst.Descriptor, inst.Address)
	}
}

// Instances returns a snapshot in registration order.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, len(r.instances))
	copy(out, r.instances)
	return out
}

// Get returns the instance registered at addr.
func (r *Registry) Get(addr bus.Address) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		if inst.Address.Equal(addr) {
			return inst, true
		}
	}
	return nil, false
}

// Unregister drops the instance at addr and reports whether one existed.
func (r *Registry) Unregister(addr bus.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, inst := range r.instances {
		if inst.Address.Equal(addr) {
			r.instances = append(r.instances[:i:i], r.instances[i+1:]...)
			r.logger.Info("Device unregistered", zap.Stringer("address", addr))
			return true
		}
	}
	return false
}

// Len is the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
