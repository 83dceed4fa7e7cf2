// internal/driver/sc16is740/sc16is740.go
package sc16is740

import (
	"context"
	"fmt"
	"sync"

	"maus-bus/internal/bus"
	"maus-bus/pkg/driver"

	"go.uber.org/zap"
)

const (
	// DefaultAddress is where the bridge answers on accessory boards.
	DefaultAddress byte = 0x4D

	// CrystalFrequency is the bridge's reference clock in Hz.
	CrystalFrequency = 3072000

	// FIFOSize is the depth of both the transmit and receive FIFO.
	FIFOSize = 64
)

// Registers. The bridge expects the register index shifted left by three.
const (
	RegRHR   byte = 0x00
	RegTHR   byte = 0x00
	RegIER   byte = 0x01
	RegFCR   byte = 0x02
	RegIIR   byte = 0x02
	RegLCR   byte = 0x03
	RegMCR   byte = 0x04
	RegLSR   byte = 0x05
	RegMSR   byte = 0x06
	RegSPR   byte = 0x07
	RegTCR   byte = 0x06
	RegTLR   byte = 0x07
	RegTXLVL byte = 0x08
	RegRXLVL byte = 0x09
	RegEFCR  byte = 0x0F

	// Divisor latch, visible while LCR bit 7 is set.
	RegDLL byte = 0x00
	RegDLH byte = 0x01
)

const (
	lcrDivisorLatch = 0x80
	lcrKeepMask     = 0xC0
	mcrPrescaler4   = 0x80
	fcrEnable       = 0x01
)

// Subaddr maps a register index to the bridge's sub-address.
func Subaddr(reg byte) byte { return reg << 3 }

// Device drives one SC16IS740 I2C-to-UART bridge.
type Device struct {
	bus    *bus.Bus
	addr   byte
	logger *zap.Logger

	mu   sync.Mutex
	mode driver.UARTMode
}

var _ driver.UART = (*Device)(nil)

// New returns a bridge at addr. Nothing is written until Init or SetMode.
func New(b *bus.Bus, addr byte, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{bus: b, addr: addr, logger: logger}
}

// Init programs baud rate and frame format, then enables the FIFOs.
func (d *Device) Init(ctx context.Context, mode driver.UARTMode) error {
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", bus.ErrNotSupported, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.init(ctx, mode)
}

func (d *Device) init(ctx context.Context, mode driver.UARTMode) error {
	if err := d.setBaudRate(ctx, mode.BaudRate); err != nil {
		return err
	}
	if err := d.setFormat(ctx, mode.DataBits, mode.Parity, mode.StopBits); err != nil {
		return err
	}
	if err := d.bus.WriteByteAt(ctx, d.addr, Subaddr(RegFCR), fcrEnable); err != nil {
		return err
	}

	d.mode = mode
	d.logger.Debug("UART bridge configured",
		zap.Uint8("addr", d.addr),
		zap.Stringer("mode", mode),
	)
	return nil
}

// SetMode reprograms line settings. On a configured bridge only the divisor
// or the frame format is rewritten, whichever changed.
func (d *Device) SetMode(ctx context.Context, mode driver.UARTMode) error {
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", bus.ErrNotSupported, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.mode
	if cur == (driver.UARTMode{}) {
		return d.init(ctx, mode)
	}
	if mode.BaudRate != cur.BaudRate {
		if err := d.setBaudRate(ctx, mode.BaudRate); err != nil {
			return err
		}
		d.mode.BaudRate = mode.BaudRate
	}
	if mode.DataBits != cur.DataBits || mode.Parity != cur.Parity || mode.StopBits != cur.StopBits {
		if err := d.setFormat(ctx, mode.DataBits, mode.Parity, mode.StopBits); err != nil {
			return err
		}
	}

	d.mode = mode
	d.logger.Debug("UART line settings changed",
		zap.Uint8("addr", d.addr),
		zap.Stringer("from", cur),
		zap.Stringer("to", mode),
	)
	return nil
}

// Mode returns the line settings last applied.
func (d *Device) Mode() driver.UARTMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Divisor computes the baud divisor for the given prescaler.
func Divisor(baud, prescaler int) (uint16, error) {
	if baud <= 0 || prescaler <= 0 {
		return 0, fmt.Errorf("%w: baud %d", bus.ErrNotSupported, baud)
	}
	div := (CrystalFrequency / prescaler) / (baud * 16)
	if div < 1 || div > 0xFFFF {
		return 0, fmt.Errorf("%w: baud %d out of range", bus.ErrNotSupported, baud)
	}
	return uint16(div), nil
}

// setBaudRate programs the divisor latch.
func (d *Device) setBaudRate(ctx context.Context, baud int) error {
	mcr, err := d.bus.ReadByteAt(ctx, d.addr, Subaddr(RegMCR))
	if err != nil {
		return err
	}
	prescaler := 1
	if mcr&mcrPrescaler4 != 0 {
		prescaler = 4
	}

	div, err := Divisor(baud, prescaler)
	if err != nil {
		return err
	}

	lcr, err := d.bus.ReadByteAt(ctx, d.addr, Subaddr(RegLCR))
	if err != nil {
		return err
	}
	steps := []struct{ reg, v byte }{
		{RegLCR, lcr | lcrDivisorLatch},
		{RegDLL, byte(div)},
		{RegDLH, byte(div >> 8)},
		{RegLCR, lcr &^ lcrDivisorLatch},
	}
	for _, s := range steps {
		if err := d.bus.WriteByteAt(ctx, d.addr, Subaddr(s.reg), s.v); err != nil {
			return err
		}
	}
	return nil
}

// LCR returns the line control value for a frame format, keeping the two
// top bits of current.
func LCR(current byte, dataBits int, parity driver.Parity, stopBits int) byte {
	var p byte
	switch parity {
	case driver.ParityOdd:
		p = 0b001
	case driver.ParityEven:
		p = 0b011
	case driver.ParityMark:
		p = 0b101
	case driver.ParitySpace:
		p = 0b111
	}
	var stop byte
	if stopBits == 2 {
		stop = 1
	}
	return current&lcrKeepMask | p<<3 | stop<<2 | byte(dataBits-5)&0b11
}

func (d *Device) setFormat(ctx context.Context, dataBits int, parity driver.Parity, stopBits int) error {
	lcr, err := d.bus.ReadByteAt(ctx, d.addr, Subaddr(RegLCR))
	if err != nil {
		return err
	}
	return d.bus.WriteByteAt(ctx, d.addr, Subaddr(RegLCR), LCR(lcr, dataBits, parity, stopBits))
}

// SetFIFO enables or disables both FIFOs. Disabling drops to one-byte
// holding registers.
func (d *Device) SetFIFO(ctx context.Context, enabled bool) error {
	var fcr byte
	if enabled {
		fcr = fcrEnable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.WriteByteAt(ctx, d.addr, Subaddr(RegFCR), fcr)
}

// Transmit writes data to the transmit FIFO one FIFO-sized chunk at a time.
func (d *Device) Transmit(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(data) > 0 {
		n := min(len(data), FIFOSize)
		if err := d.bus.Write(ctx, d.addr, Subaddr(RegTHR), data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Receive drains up to len(buf) bytes that the receive FIFO reports pending.
func (d *Device) Receive(ctx context.Context, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	level, err := d.bus.ReadByteAt(ctx, d.addr, Subaddr(RegRXLVL))
	if err != nil {
		return 0, err
	}
	n := min(int(level), len(buf), FIFOSize)
	if n == 0 {
		return 0, nil
	}
	if err := d.bus.Read(ctx, d.addr, Subaddr(RegRHR), buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}
