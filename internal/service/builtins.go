// internal/service/builtins.go
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/driver"
	"maus-bus/internal/drivercfg"
	pkgdriver "maus-bus/pkg/driver"
)

// Built-in system function names.
const (
	FnLog         = "log"
	FnSetVariable = "setVariable"
	FnAddVariable = "addVariable"
	FnUARTWrite   = "uartWrite"
	FnUARTMode    = "uartMode"
	FnTSCode      = "tscode"
	FnGPIOMode    = "gpioMode"
	FnGPIOSet     = "gpioSet"
	FnGPIOToggle  = "gpioToggle"
	FnGPIOWrite   = "gpioWriteAll"
	FnGPIORead    = "gpioReadAll"
	FnGPIOInvert  = "gpioInvert"
)

// Optional driver extensions. Built-ins that need one return
// ErrNotSupported when the bound driver lacks it.
type (
	// toggler inverts a latch in one read-modify-write.
	toggler interface {
		Toggle(ctx context.Context, pin uint8) (pkgdriver.Level, error)
	}

	port interface {
		SetModes(ctx context.Context, inputs byte) error
		SetLevels(ctx context.Context, levels byte) error
		Levels(ctx context.Context) (byte, error)
	}

	inverter interface {
		SetInverted(ctx context.Context, pin uint8, inverted bool) error
	}

	modeReporter interface {
		Mode() pkgdriver.UARTMode
	}

	fifoSwitch interface {
		SetFIFO(ctx context.Context, enabled bool) error
	}
)

func (s *DriverService) registerBuiltins(sys *drivercfg.SystemFunctions) {
	builtins := map[string]drivercfg.SystemFunc{
		FnLog:         s.fnLog,
		FnSetVariable: s.fnSetVariable,
		FnAddVariable: s.fnAddVariable,
		FnUARTWrite:   s.fnUARTWrite,
		FnUARTMode:    s.fnUARTMode,
		FnTSCode:      s.fnTSCode,
		FnGPIOMode:    s.fnGPIOMode,
		FnGPIOSet:     s.fnGPIOSet,
		FnGPIOToggle:  s.fnGPIOToggle,
		FnGPIOWrite:   s.fnGPIOWriteAll,
		FnGPIORead:    s.fnGPIOReadAll,
		FnGPIOInvert:  s.fnGPIOInvert,
	}
	for name, fn := range builtins {
		if err := sys.Register(name, fn); err != nil {
			s.logger.Error("Failed to register system function", zap.String("name", name), zap.Error(err))
		}
	}
}

// field returns key from an object argument, falling back to the merged
// invocation payload under "arg". A non-object argument is itself the value.
func field(args json.RawMessage, key string) gjson.Result {
	r := gjson.ParseBytes(args)
	if !r.IsObject() {
		return r
	}
	if v := r.Get(key); v.Exists() {
		return v
	}
	return r.Get("arg")
}

// nameField accepts {"name": ...} or a bare string.
func nameField(args json.RawMessage) string {
	r := gjson.ParseBytes(args)
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Get("name").String()
}

func intField(args json.RawMessage, key string) (int, bool) {
	v := field(args, key)
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	}
	return 0, false
}

func pinField(args json.RawMessage) (uint8, error) {
	v := gjson.GetBytes(args, "pin")
	if !v.Exists() || v.Type != gjson.Number || v.Int() < 0 || v.Int() > 7 {
		return 0, fmt.Errorf("%w: pin must be 0-7", bus.ErrFail)
	}
	return uint8(v.Int()), nil
}

func (s *DriverService) fnLog(_ context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	r := gjson.ParseBytes(args)
	msg, level := r.String(), "info"
	if r.IsObject() {
		msg = r.Get("message").String()
		if msg == "" {
			msg = r.Get("arg").String()
		}
		if l := r.Get("level").String(); l != "" {
			level = strings.ToLower(l)
		}
	}

	logger := s.logger.With(zap.String("driver", cfg.DisplayName), zap.String("config_id", cfg.ID))
	switch level {
	case "debug":
		logger.Debug(msg)
	case "warn", "warning":
		logger.Warn(msg)
	case "error":
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
	return nil
}

func (s *DriverService) fnSetVariable(_ context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	name := nameField(args)
	if name == "" {
		return fmt.Errorf("%w: setVariable needs a name", bus.ErrFail)
	}
	v, ok := intField(args, "value")
	if !ok {
		return fmt.Errorf("%w: setVariable %s needs an integer value", bus.ErrFail, name)
	}
	old := cfg.Variable(name)
	cfg.SetVariable(name, v)
	s.audit.LogVariableChanged(cfg.ID, name, old, v)
	return nil
}

func (s *DriverService) fnAddVariable(_ context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	name := nameField(args)
	if name == "" {
		return fmt.Errorf("%w: addVariable needs a name", bus.ErrFail)
	}
	delta, ok := intField(args, "delta")
	if !ok {
		delta = 1
	}
	old := cfg.Variable(name)
	s.audit.LogVariableChanged(cfg.ID, name, old, cfg.AddVariable(name, delta))
	return nil
}

func (s *DriverService) fnUARTWrite(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	inst, err := s.instanceFor(cfg, args)
	if err != nil {
		return err
	}
	if inst.UART == nil {
		return fmt.Errorf("%w: no UART at %s", bus.ErrNotSupported, inst.Address)
	}
	data, err := payload(args)
	if err != nil {
		return err
	}
	return inst.UART.Transmit(ctx, data)
}

func (s *DriverService) fnUARTMode(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	inst, err := s.instanceFor(cfg, args)
	if err != nil {
		return err
	}
	if inst.UART == nil {
		return fmt.Errorf("%w: no UART at %s", bus.ErrNotSupported, inst.Address)
	}

	// Settings not named keep their current value.
	mode := pkgdriver.DefaultUARTMode
	if m, ok := inst.UART.(modeReporter); ok && m.Mode() != (pkgdriver.UARTMode{}) {
		mode = m.Mode()
	}
	r := gjson.ParseBytes(args)
	if v := r.Get("baud"); v.Exists() {
		mode.BaudRate = int(v.Int())
	}
	if v := r.Get("dataBits"); v.Exists() {
		mode.DataBits = int(v.Int())
	}
	if v := r.Get("stopBits"); v.Exists() {
		mode.StopBits = int(v.Int())
	}
	if v := r.Get("parity"); v.Exists() {
		p, err := pkgdriver.ParseParity(v.String())
		if err != nil {
			return fmt.Errorf("%w: %w", bus.ErrFail, err)
		}
		mode.Parity = p
	}
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("%w: %w", bus.ErrFail, err)
	}
	if err := inst.UART.SetMode(ctx, mode); err != nil {
		return err
	}

	if v := r.Get("fifo"); v.IsBool() {
		f, ok := inst.UART.(fifoSwitch)
		if !ok {
			return fmt.Errorf("%w: UART at %s has no FIFO control", bus.ErrNotSupported, inst.Address)
		}
		return f.SetFIFO(ctx, v.Bool())
	}
	return nil
}

// fnTSCode sends a signaling frame: the code byte, which the listener
// takes as sub-address, followed by optional data.
func (s *DriverService) fnTSCode(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	inst, err := s.instanceFor(cfg, args)
	if err != nil {
		return err
	}
	if inst.Signal == nil {
		return fmt.Errorf("%w: no signaling listener at %s", bus.ErrNotSupported, inst.Address)
	}
	code, ok := intField(args, "code")
	if !ok || code < 0 || code > 0xFF {
		return fmt.Errorf("%w: tscode needs a code 0-255", bus.ErrFail)
	}
	frame := []byte{byte(code)}
	if gjson.GetBytes(args, "data").Exists() {
		data, err := payload(args)
		if err != nil {
			return err
		}
		frame = append(frame, data...)
	}
	return inst.Signal.Transmit(ctx, frame)
}

func (s *DriverService) fnGPIOMode(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	gpio, err := s.gpioFor(cfg, args)
	if err != nil {
		return err
	}
	pin, err := pinField(args)
	if err != nil {
		return err
	}
	mode := pkgdriver.PinOutput
	switch strings.ToLower(gjson.GetBytes(args, "mode").String()) {
	case "input", "in":
		mode = pkgdriver.PinInput
	case "", "output", "out":
	default:
		return fmt.Errorf("%w: unknown pin mode", bus.ErrFail)
	}
	return gpio.Mode(ctx, pin, mode)
}

func (s *DriverService) fnGPIOSet(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	gpio, err := s.gpioFor(cfg, args)
	if err != nil {
		return err
	}
	pin, err := pinField(args)
	if err != nil {
		return err
	}
	level := pkgdriver.Low
	v := field(args, "level")
	switch v.Type {
	case gjson.String:
		if strings.EqualFold(v.String(), "high") {
			level = pkgdriver.High
		}
	case gjson.True:
		level = pkgdriver.High
	case gjson.Number:
		if v.Int() != 0 {
			level = pkgdriver.High
		}
	}
	return gpio.Set(ctx, pin, level)
}

func (s *DriverService) fnGPIOToggle(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	gpio, err := s.gpioFor(cfg, args)
	if err != nil {
		return err
	}
	pin, err := pinField(args)
	if err != nil {
		return err
	}
	if t, ok := gpio.(toggler); ok {
		_, err := t.Toggle(ctx, pin)
		return err
	}
	cur, err := gpio.Get(ctx, pin)
	if err != nil {
		return err
	}
	if cur == pkgdriver.High {
		return gpio.Set(ctx, pin, pkgdriver.Low)
	}
	return gpio.Set(ctx, pin, pkgdriver.High)
}

// fnGPIOWriteAll drives all eight output latches at once, optionally
// setting pin directions first from an "inputs" mask.
func (s *DriverService) fnGPIOWriteAll(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	p, err := s.portFor(cfg, args)
	if err != nil {
		return err
	}
	levels, ok := intField(args, "levels")
	if !ok || levels < 0 || levels > 0xFF {
		return fmt.Errorf("%w: gpioWriteAll needs levels 0-255", bus.ErrFail)
	}
	if v := gjson.GetBytes(args, "inputs"); v.Exists() {
		if v.Type != gjson.Number || v.Int() < 0 || v.Int() > 0xFF {
			return fmt.Errorf("%w: inputs mask must be 0-255", bus.ErrFail)
		}
		if err := p.SetModes(ctx, byte(v.Int())); err != nil {
			return err
		}
	}
	return p.SetLevels(ctx, byte(levels))
}

// fnGPIOReadAll samples every pin into a config variable, "gpio" unless
// "into" names another.
func (s *DriverService) fnGPIOReadAll(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	p, err := s.portFor(cfg, args)
	if err != nil {
		return err
	}
	name := gjson.GetBytes(args, "into").String()
	if name == "" {
		name = "gpio"
	}
	v, err := p.Levels(ctx)
	if err != nil {
		return err
	}
	old := cfg.Variable(name)
	cfg.SetVariable(name, int(v))
	s.audit.LogVariableChanged(cfg.ID, name, old, int(v))
	return nil
}

func (s *DriverService) fnGPIOInvert(ctx context.Context, cfg *drivercfg.Config, args json.RawMessage) error {
	gpio, err := s.gpioFor(cfg, args)
	if err != nil {
		return err
	}
	inv, ok := gpio.(inverter)
	if !ok {
		return fmt.Errorf("%w: expander has no polarity control", bus.ErrNotSupported)
	}
	pin, err := pinField(args)
	if err != nil {
		return err
	}
	inverted := true
	if v := gjson.GetBytes(args, "inverted"); v.Exists() {
		inverted = v.Bool()
	}
	return inv.SetInverted(ctx, pin, inverted)
}

func (s *DriverService) portFor(cfg *drivercfg.Config, args json.RawMessage) (port, error) {
	gpio, err := s.gpioFor(cfg, args)
	if err != nil {
		return nil, err
	}
	p, ok := gpio.(port)
	if !ok {
		return nil, fmt.Errorf("%w: expander has no whole-port access", bus.ErrNotSupported)
	}
	return p, nil
}

// gpioFor resolves the I/O expander on the device an action drives. The
// device must advertise the gpio feature; the expander is the configured
// chip unless "chip" names another.
func (s *DriverService) gpioFor(cfg *drivercfg.Config, args json.RawMessage) (pkgdriver.GPIO, error) {
	inst, err := s.instanceFor(cfg, args)
	if err != nil {
		return nil, err
	}
	if !inst.Descriptor.Features.GPIO() {
		return nil, fmt.Errorf("%w: no GPIO at %s", bus.ErrNotSupported, inst.Address)
	}
	var chip byte
	if v := gjson.GetBytes(args, "chip"); v.Exists() {
		if v.Type != gjson.Number || v.Int() < 1 || v.Int() > 0x7F {
			return nil, fmt.Errorf("%w: chip must be a 7-bit address", bus.ErrFail)
		}
		chip = byte(v.Int())
	}
	return s.registry.Expander(chip)
}

// instanceFor picks the device an action drives: an explicit "address"
// argument, otherwise the first device bound to cfg.
func (s *DriverService) instanceFor(cfg *drivercfg.Config, args json.RawMessage) (*driver.Instance, error) {
	if a := gjson.GetBytes(args, "address"); a.Type == gjson.String {
		addr, err := bus.ParseAddress(a.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", bus.ErrFail, err)
		}
		inst, ok := s.registry.Get(addr)
		if !ok {
			return nil, fmt.Errorf("%w: no driver registered at %s", bus.ErrNotSupported, addr)
		}
		return inst, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.registry.Instances() {
		if s.bindings[inst.Address.String()] == cfg.ID {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not bound to a device", bus.ErrNotSupported, cfg.DisplayName)
}

// payload extracts bytes to send from "data" (text), "hex", "bytes" (array
// of integers) or the invocation payload.
func payload(args json.RawMessage) ([]byte, error) {
	r := gjson.ParseBytes(args)
	if r.IsObject() {
		switch {
		case r.Get("hex").Exists():
			b, err := hex.DecodeString(strings.ReplaceAll(r.Get("hex").String(), " ", ""))
			if err != nil {
				return nil, fmt.Errorf("%w: invalid hex payload", bus.ErrFail)
			}
			return b, nil
		case r.Get("bytes").Exists():
			return byteArray(r.Get("bytes"))
		case r.Get("data").Exists():
			r = r.Get("data")
		default:
			r = r.Get("arg")
		}
	}

	switch {
	case r.Type == gjson.String:
		return []byte(r.String()), nil
	case r.IsArray():
		return byteArray(r)
	case r.Type == gjson.Number && r.Int() >= 0 && r.Int() <= 0xFF:
		return []byte{byte(r.Int())}, nil
	}
	return nil, fmt.Errorf("%w: nothing to send", bus.ErrFail)
}

func byteArray(r gjson.Result) ([]byte, error) {
	var out []byte
	var bad bool
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.Number || v.Int() < 0 || v.Int() > 0xFF {
			bad = true
			return false
		}
		out = append(out, byte(v.Int()))
		return true
	})
	if bad {
		return nil, fmt.Errorf("%w: byte values must be 0-255", bus.ErrFail)
	}
	return out, nil
}
