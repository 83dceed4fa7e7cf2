// pkg/driver/types.go
package driver

import (
	"fmt"
	"strings"
)

// Parity selects the UART parity mode.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", uint8(p))
	}
}

// ParseParity accepts the names produced by String and the single letters N, O, E, M, S.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return ParityNone, nil
	case "odd", "o":
		return ParityOdd, nil
	case "even", "e":
		return ParityEven, nil
	case "mark", "m":
		return ParityMark, nil
	case "space", "s":
		return ParitySpace, nil
	}
	return ParityNone, fmt.Errorf("unknown parity %q", s)
}

// UARTMode holds line settings for a UART.
type UARTMode struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stop_bits"`
}

// DefaultUARTMode is applied when a serial-capable device is registered.
var DefaultUARTMode = UARTMode{
	BaudRate: 9600,
	DataBits: 8,
	Parity:   ParityNone,
	StopBits: 1,
}

// Validate checks the ranges every UART implementation supports.
func (m UARTMode) Validate() error {
	if m.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", m.BaudRate)
	}
	if m.DataBits < 5 || m.DataBits > 8 {
		return fmt.Errorf("invalid data bits %d", m.DataBits)
	}
	if m.StopBits != 1 && m.StopBits != 2 {
		return fmt.Errorf("invalid stop bits %d", m.StopBits)
	}
	if m.Parity > ParitySpace {
		return fmt.Errorf("invalid parity %d", m.Parity)
	}
	return nil
}

func (m UARTMode) String() string {
	return fmt.Sprintf("%d/%d%c%d", m.BaudRate, m.DataBits, strings.ToUpper(m.Parity.String())[0], m.StopBits)
}

// PinMode is the direction of a GPIO pin.
type PinMode uint8

const (
	PinOutput PinMode = iota
	PinInput
)

func (m PinMode) String() string {
	if m == PinInput {
		return "input"
	}
	return "output"
}

// Level is the logic level of a GPIO pin.
type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Capability names as reported by driver instances.
const (
	CapabilityUART     = "uart"
	CapabilityTransmit = "transmit"
	CapabilityGPIO     = "gpio"
)
