//go:build !linux

package i2cbus

import (
	"fmt"

	"maus-bus/internal/bus"
)

// Dev is only available on Linux.
type Dev struct{}

func OpenDev(path string) (*Dev, error) {
	return nil, fmt.Errorf("%w: i2c-dev %s", bus.ErrNotSupported, path)
}

func (d *Dev) Tx(addr uint16, w, r []byte) error { return bus.ErrNotSupported }

func (d *Dev) Close() error { return nil }
