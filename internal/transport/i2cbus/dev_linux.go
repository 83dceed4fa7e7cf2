//go:build linux

package i2cbus

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const ioctlI2CSlave = 0x0703

// Dev is a Linux i2c-dev adapter such as /dev/i2c-1.
type Dev struct {
	mu   sync.Mutex
	f    *os.File
	addr uint16
	set  bool
}

// OpenDev opens an i2c-dev character device.
func OpenDev(path string) (*Dev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Dev{f: f}, nil
}

// Tx implements drivers.I2C. The write and read halves are issued as two
// transfers.
func (d *Dev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.set || d.addr != addr {
		if err := unix.IoctlSetInt(int(d.f.Fd()), ioctlI2CSlave, int(addr)); err != nil {
			return fmt.Errorf("select 0x%02X: %w", addr, err)
		}
		d.addr, d.set = addr, true
	}
	if len(w) > 0 {
		if _, err := d.f.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := d.f.Read(r); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) Close() error {
	return d.f.Close()
}
