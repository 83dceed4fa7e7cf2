// internal/bus/transport.go
package bus

import (
	"context"
	"sync"
)

// SignalAddress identifies the broadcast signaling listener.
const SignalAddress byte = 0x69

// Transport is the host-supplied capability the bus runs over.
// addr is a 7-bit device address, subaddr a register or memory offset.
type Transport interface {
	Read(ctx context.Context, addr, subaddr byte, buf []byte) error
	Write(ctx context.Context, addr, subaddr byte, data []byte) error
	Probe(ctx context.Context, addr byte) error
}

// TransportFuncs adapts plain callbacks to Transport. A nil callback makes
// the corresponding operation fail with ErrFail.
type TransportFuncs struct {
	ReadFunc  func(ctx context.Context, addr, subaddr byte, buf []byte) error
	WriteFunc func(ctx context.Context, addr, subaddr byte, data []byte) error
	ProbeFunc func(ctx context.Context, addr byte) error
}

func (f TransportFuncs) Read(ctx context.Context, addr, subaddr byte, buf []byte) error {
	if f.ReadFunc == nil {
		return ErrFail
	}
	return f.ReadFunc(ctx, addr, subaddr, buf)
}

func (f TransportFuncs) Write(ctx context.Context, addr, subaddr byte, data []byte) error {
	if f.WriteFunc == nil {
		return ErrFail
	}
	return f.WriteFunc(ctx, addr, subaddr, data)
}

func (f TransportFuncs) Probe(ctx context.Context, addr byte) error {
	if f.ProbeFunc == nil {
		return ErrFail
	}
	return f.ProbeFunc(ctx, addr)
}

// Bus is the core's handle on the transport. Every operation fails with
// ErrFail until a transport is installed; transport errors propagate unchanged.
type Bus struct {
	mu sync.RWMutex
	t  Transport
}

// New returns a Bus over t. t may be nil and installed later with Init.
func New(t Transport) *Bus {
	return &Bus{t: t}
}

// Init installs or replaces the transport.
func (b *Bus) Init(t Transport) {
	b.mu.Lock()
	b.t = t
	b.mu.Unlock()
}

func (b *Bus) transport() Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.t
}

// Read fills buf from addr at subaddr. buf is zeroed before the transfer.
func (b *Bus) Read(ctx context.Context, addr, subaddr byte, buf []byte) error {
	t := b.transport()
	if t == nil {
		return ErrFail
	}
	clear(buf)
	return t.Read(ctx, addr, subaddr, buf)
}

func (b *Bus) ReadByteAt(ctx context.Context, addr, subaddr byte) (byte, error) {
	var v [1]byte
	err := b.Read(ctx, addr, subaddr, v[:])
	return v[0], err
}

func (b *Bus) Write(ctx context.Context, addr, subaddr byte, data []byte) error {
	t := b.transport()
	if t == nil {
		return ErrFail
	}
	return t.Write(ctx, addr, subaddr, data)
}

func (b *Bus) WriteByteAt(ctx context.Context, addr, subaddr, v byte) error {
	return b.Write(ctx, addr, subaddr, []byte{v})
}

func (b *Bus) WriteString(ctx context.Context, addr, subaddr byte, s string) error {
	return b.Write(ctx, addr, subaddr, []byte(s))
}

// Probe reports nil iff a device answers at addr.
func (b *Bus) Probe(ctx context.Context, addr byte) error {
	t := b.transport()
	if t == nil {
		return ErrFail
	}
	return t.Probe(ctx, addr)
}
