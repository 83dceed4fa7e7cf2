// internal/driver/tscode/tscode.go
package tscode

import (
	"context"
	"fmt"

	"maus-bus/internal/bus"
	"maus-bus/pkg/driver"
)

// Device is the transmit-only broadcast signaling listener. The first byte
// of every frame is sent as the sub-address, the rest as payload.
type Device struct {
	bus  *bus.Bus
	addr byte
}

var _ driver.Transmitter = (*Device)(nil)

// New returns a signaling driver at addr, normally bus.SignalAddress.
func New(b *bus.Bus, addr byte) *Device {
	return &Device{bus: b, addr: addr}
}

func (d *Device) Transmit(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty signaling frame", bus.ErrFail)
	}
	return d.bus.Write(ctx, d.addr, data[0], data[1:])
}
