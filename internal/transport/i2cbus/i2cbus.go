// internal/transport/i2cbus/i2cbus.go
package i2cbus

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"maus-bus/internal/bus"
)

// Transport runs the bus over any tinygo drivers.I2C implementation.
// Register reads are a one-byte write of the sub-address followed by a
// read; register writes prefix the payload with the sub-address.
type Transport struct {
	i2c drivers.I2C

	mu sync.Mutex
	w  []byte
}

var _ bus.Transport = (*Transport)(nil)

func New(i2c drivers.I2C) *Transport {
	return &Transport{i2c: i2c}
}

func (t *Transport) Read(ctx context.Context, addr, subaddr byte, buf []byte) error {
	if ctx.Err() != nil {
		return bus.ErrTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return wrap(t.i2c.Tx(uint16(addr), []byte{subaddr}, buf))
}

func (t *Transport) Write(ctx context.Context, addr, subaddr byte, data []byte) error {
	if ctx.Err() != nil {
		return bus.ErrTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w = append(t.w[:0], subaddr)
	t.w = append(t.w, data...)
	return wrap(t.i2c.Tx(uint16(addr), t.w, nil))
}

// Probe reads a single byte; only a device that acknowledges its address
// completes the transfer.
func (t *Transport) Probe(ctx context.Context, addr byte) error {
	if ctx.Err() != nil {
		return bus.ErrTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var one [1]byte
	return wrap(t.i2c.Tx(uint16(addr), nil, one[:]))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if c := bus.CodeOf(err); c != bus.Fail {
		return err
	}
	return fmt.Errorf("%w: %v", bus.ErrFail, err)
}
