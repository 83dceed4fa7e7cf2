// internal/transport/serialbridge/port.go
package serialbridge

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Config represents the serial link to the bridge
type Config struct {
	Port     string        `mapstructure:"port" json:"port"`
	BaudRate int           `mapstructure:"baud_rate" json:"baud_rate"`
	DataBits int           `mapstructure:"data_bits" json:"data_bits"`
	StopBits int           `mapstructure:"stop_bits" json:"stop_bits"`
	Parity   string        `mapstructure:"parity" json:"parity"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

func (c *Config) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: serial.OneStopBit,
	}
	if c.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch c.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode
}

// Open opens the serial port and returns a bridge speaking over it.
func Open(cfg *Config, logger *zap.Logger) (*Bridge, error) {
	logger = logger.With(
		zap.String("transport", "serialbridge"),
		zap.String("port", cfg.Port),
	)
	logger.Info("Opening serial port", zap.Int("baud_rate", cfg.BaudRate))

	port, err := serial.Open(cfg.Port, cfg.mode())
	if err != nil {
		logger.Error("Failed to open serial port", zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Warn("Failed to flush input buffer", zap.Error(err))
	}

	logger.Info("Serial port opened successfully")
	return New(port, logger), nil
}

// ListPorts returns serial ports whose names match one of patterns, or the
// platform defaults when patterns is empty.
func ListPorts(patterns []string) ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	if len(patterns) == 0 {
		patterns = DefaultPortPatterns()
	}

	var matched []string
	for _, p := range ports {
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(pattern, p); ok {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched, nil
}

// DefaultPortPatterns names the usual USB-serial device nodes.
func DefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"/dev/cu.usbserial*", "/dev/cu.usbmodem*"}
	default:
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	}
}
