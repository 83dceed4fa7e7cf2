// internal/driver/pca9554/pca9554.go
package pca9554

import (
	"context"
	"fmt"
	"sync"

	"maus-bus/internal/bus"
	"maus-bus/pkg/driver"
)

const (
	DefaultAddress byte = 0x20
	// AlternateAddress is the base address of the PCA9554A variant.
	AlternateAddress byte = 0x38

	Pins = 8
)

const (
	RegInput    byte = 0x00
	RegOutput   byte = 0x01
	RegPolarity byte = 0x02
	RegConfig   byte = 0x03
)

// Device drives an 8-bit PCA9554 I/O expander. A set config bit makes the
// pin an input.
type Device struct {
	bus  *bus.Bus
	addr byte
	mu   sync.Mutex
}

var _ driver.GPIO = (*Device)(nil)

func New(b *bus.Bus, addr byte) *Device {
	return &Device{bus: b, addr: addr}
}

func checkPin(pin uint8) error {
	if pin >= Pins {
		return fmt.Errorf("%w: pin %d", bus.ErrNotSupported, pin)
	}
	return nil
}

// update applies a read-modify-write to one bit of reg.
func (d *Device) update(ctx context.Context, reg byte, pin uint8, set bool) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.bus.ReadByteAt(ctx, d.addr, reg)
	if err != nil {
		return err
	}
	if set {
		v |= 1 << pin
	} else {
		v &^= 1 << pin
	}
	return d.bus.WriteByteAt(ctx, d.addr, reg, v)
}

func (d *Device) Mode(ctx context.Context, pin uint8, mode driver.PinMode) error {
	return d.update(ctx, RegConfig, pin, mode == driver.PinInput)
}

func (d *Device) Set(ctx context.Context, pin uint8, level driver.Level) error {
	return d.update(ctx, RegOutput, pin, level == driver.High)
}

func (d *Device) Get(ctx context.Context, pin uint8) (driver.Level, error) {
	if err := checkPin(pin); err != nil {
		return driver.Low, err
	}
	v, err := d.bus.ReadByteAt(ctx, d.addr, RegInput)
	if err != nil {
		return driver.Low, err
	}
	if v&(1<<pin) != 0 {
		return driver.High, nil
	}
	return driver.Low, nil
}

// Toggle inverts the output latch of pin and returns the new level.
func (d *Device) Toggle(ctx context.Context, pin uint8) (driver.Level, error) {
	if err := checkPin(pin); err != nil {
		return driver.Low, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.bus.ReadByteAt(ctx, d.addr, RegOutput)
	if err != nil {
		return driver.Low, err
	}
	v ^= 1 << pin
	if err := d.bus.WriteByteAt(ctx, d.addr, RegOutput, v); err != nil {
		return driver.Low, err
	}
	if v&(1<<pin) != 0 {
		return driver.High, nil
	}
	return driver.Low, nil
}

// SetModes writes the whole config register; a set bit makes that pin an
// input.
func (d *Device) SetModes(ctx context.Context, inputs byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.WriteByteAt(ctx, d.addr, RegConfig, inputs)
}

// SetLevels writes the whole output register.
func (d *Device) SetLevels(ctx context.Context, levels byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.WriteByteAt(ctx, d.addr, RegOutput, levels)
}

// Levels samples every pin at once.
func (d *Device) Levels(ctx context.Context) (byte, error) {
	return d.bus.ReadByteAt(ctx, d.addr, RegInput)
}

// SetInverted controls input polarity inversion for pin.
func (d *Device) SetInverted(ctx context.Context, pin uint8, inverted bool) error {
	return d.update(ctx, RegPolarity, pin, inverted)
}
