// internal/driver/registry_init.go
package driver

import (
	"context"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/driver/pca9554"
	"maus-bus/internal/driver/sc16is740"
	"maus-bus/internal/driver/tscode"
	"maus-bus/pkg/driver"
)

// ChipAddresses locates the peripheral chips on an accessory board.
type ChipAddresses struct {
	UART   byte
	GPIO   byte
	Signal byte
}

// DefaultChipAddresses matches the reference accessory boards.
var DefaultChipAddresses = ChipAddresses{
	UART:   sc16is740.DefaultAddress,
	GPIO:   pca9554.DefaultAddress,
	Signal: bus.SignalAddress,
}

// RegisterDefaultDrivers installs the SC16IS740, generic signaling and
// PCA9554 drivers.
func RegisterDefaultDrivers(registry *Registry, chips ChipAddresses, logger *zap.Logger) {
	registry.RegisterUART("sc16is740", func(ctx context.Context, b *bus.Bus, addr bus.Address, mode driver.UARTMode) (driver.UART, error) {
		dev := sc16is740.New(b, chips.UART, logger.With(zap.Stringer("device", addr)))
		if err := dev.Init(ctx, mode); err != nil {
			return nil, err
		}
		return dev, nil
	})

	registry.RegisterSignal("generic-tscode", func(b *bus.Bus, _ bus.Address) driver.Transmitter {
		return tscode.New(b, chips.Signal)
	})

	registry.RegisterGPIO("pca9554", chips.GPIO, func(b *bus.Bus, chip byte) driver.GPIO {
		return pca9554.New(b, chip)
	})

	logger.Info("Default bus drivers registered",
		zap.Uint8("uart_addr", chips.UART),
		zap.Uint8("gpio_addr", chips.GPIO),
		zap.Uint8("signal_addr", chips.Signal),
	)
}
