// internal/transport/sim/sim.go
package sim

import (
	"context"
	"sync"

	"maus-bus/internal/bus"
)

// Transfer records one write seen by a simulated device.
type Transfer struct {
	Addr    byte
	Subaddr byte
	Data    []byte
}

// Device is a simulated bus participant with a 256-byte register file.
type Device struct {
	mu       sync.Mutex
	mem      [256]byte
	writes   []Transfer
	ReadErr  error
	WriteErr error
	ProbeErr error
}

// Load copies data into the register file starting at subaddr.
func (d *Device) Load(subaddr byte, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range data {
		d.mem[byte(int(subaddr)+i)] = v
	}
}

// Register returns the current value at subaddr.
func (d *Device) Register(subaddr byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem[subaddr]
}

// Writes returns a copy of every write the device received.
func (d *Device) Writes() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Transfer, len(d.writes))
	copy(out, d.writes)
	return out
}

// Bus is an in-memory Transport.
type Bus struct {
	mu      sync.RWMutex
	devices map[byte]*Device

	statsMu sync.Mutex
	reads   int
	probes  int
}

var _ bus.Transport = (*Bus)(nil)

func New() *Bus {
	return &Bus{devices: make(map[byte]*Device)}
}

// Attach places a blank device at addr and returns it.
func (b *Bus) Attach(addr byte) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &Device{}
	b.devices[addr] = d
	return d
}

// AttachEEPROM places an identification storage at addr holding desc.
func (b *Bus) AttachEEPROM(addr byte, desc bus.Descriptor) *Device {
	d := b.Attach(addr)
	raw, _ := desc.MarshalBinary()
	d.Load(0x00, raw)
	return d
}

// Detach removes the device at addr.
func (b *Bus) Detach(addr byte) {
	b.mu.Lock()
	delete(b.devices, addr)
	b.mu.Unlock()
}

// Device returns the device at addr, if any.
func (b *Bus) Device(addr byte) (*Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.devices[addr]
	return d, ok
}

// Stats returns the number of reads and probes served.
func (b *Bus) Stats() (reads, probes int) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.reads, b.probes
}

func (b *Bus) Read(ctx context.Context, addr, subaddr byte, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return bus.ErrTimeout
	}
	b.statsMu.Lock()
	b.reads++
	b.statsMu.Unlock()

	d, ok := b.Device(addr)
	if !ok {
		return bus.ErrFail
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ReadErr != nil {
		return d.ReadErr
	}
	for i := range buf {
		buf[i] = d.mem[byte(int(subaddr)+i)]
	}
	return nil
}

func (b *Bus) Write(ctx context.Context, addr, subaddr byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return bus.ErrTimeout
	}
	d, ok := b.Device(addr)
	if !ok {
		return bus.ErrFail
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return d.WriteErr
	}
	d.writes = append(d.writes, Transfer{Addr: addr, Subaddr: subaddr, Data: append([]byte(nil), data...)})
	for i, v := range data {
		d.mem[byte(int(subaddr)+i)] = v
	}
	return nil
}

func (b *Bus) Probe(ctx context.Context, addr byte) error {
	if err := ctx.Err(); err != nil {
		return bus.ErrTimeout
	}
	b.statsMu.Lock()
	b.probes++
	b.statsMu.Unlock()

	d, ok := b.Device(addr)
	if !ok {
		return bus.ErrFail
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ProbeErr
}
