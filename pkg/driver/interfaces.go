// pkg/driver/interfaces.go
package driver

import "context"

// Transmitter sends a frame to a peripheral. It is the whole capability of
// a signaling-only device.
type Transmitter interface {
	Transmit(ctx context.Context, data []byte) error
}

// UART is the stream sub-protocol of a serial-capable device.
type UART interface {
	Transmitter

	// Receive reads up to len(buf) pending bytes and returns how many were read.
	Receive(ctx context.Context, buf []byte) (int, error)

	// SetMode reprograms line settings.
	SetMode(ctx context.Context, mode UARTMode) error
}

// GPIO is the control sub-protocol of an I/O expander.
type GPIO interface {
	// Mode configures one pin as input or output.
	Mode(ctx context.Context, pin uint8, mode PinMode) error

	// Set drives an output pin.
	Set(ctx context.Context, pin uint8, level Level) error

	// Get samples a pin.
	Get(ctx context.Context, pin uint8) (Level, error)
}
