// internal/service/bus_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/config"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver"
	"maus-bus/internal/events"
	"maus-bus/internal/model"
	"maus-bus/internal/utils"
)

// RegisteredFunc observes a newly registered (or re-registered) instance.
type RegisteredFunc func(ctx context.Context, inst *driver.Instance)

// RemovedFunc observes an instance leaving the registry.
type RemovedFunc func(ctx context.Context, addr bus.Address)

// StatusChange is a presence transition seen by CheckPresence.
type StatusChange struct {
	Address bus.Address
	Old     discovery.Status
	New     discovery.Status
}

// BusService owns scanning, registration and presence tracking.
type BusService struct {
	scanner  *discovery.Scanner
	registry *driver.Registry
	events   *events.Bus
	config   *config.BusConfig
	logger   *utils.ServiceLogger

	hookMu       sync.RWMutex
	onRegistered []RegisteredFunc
	onRemoved    []RemovedFunc

	lastMu   sync.RWMutex
	lastScan *model.ScanResult
}

// NewBusService creates a new bus service
func NewBusService(
	scanner *discovery.Scanner,
	registry *driver.Registry,
	eventBus *events.Bus,
	cfg *config.BusConfig,
	logger *zap.Logger,
) *BusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusService{
		scanner:  scanner,
		registry: registry,
		events:   eventBus,
		config:   cfg,
		logger:   utils.NewServiceLogger(logger, "bus-service"),
	}
}

// OnRegistered adds a hook run after every successful registration.
func (s *BusService) OnRegistered(fn RegisteredFunc) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onRegistered = append(s.onRegistered, fn)
}

// OnRemoved adds a hook run after an instance is unregistered.
func (s *BusService) OnRemoved(fn RemovedFunc) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onRemoved = append(s.onRemoved, fn)
}

// Scan runs a quick or full scan. Devices found are registered afterwards
// when register is set; the scanner callback only collects addresses since
// it runs under the scan lock.
func (s *BusService) Scan(ctx context.Context, mode model.ScanMode, clear, register bool) (*model.ScanResult, error) {
	if mode == "" {
		mode = model.ScanMode(s.config.ScanMode)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: scan mode %q", bus.ErrNotSupported, mode)
	}

	scanID := uuid.NewString()
	op := utils.NewOperationLogger(s.logger.Logger, "scan", scanID)
	op.Start(zap.String("mode", string(mode)), zap.Bool("clear", clear))
	started := time.Now()

	if clear {
		s.scanner.Clear()
	}

	var found []bus.Address
	collect := func(desc bus.Descriptor, addr bus.Address) {
		found = append(found, addr)
		s.emit(events.DeviceFound, map[string]interface{}{
			"scan_id": scanID,
			"address": addr.String(),
			"vendor":  desc.VendorName,
			"product": desc.ProductName,
			"valid":   desc.Valid(),
		})
	}

	var n int
	switch mode {
	case model.ScanModeFull:
		n = s.scanner.ScanFull(ctx, collect)
	default:
		n = s.scanner.ScanQuick(ctx, collect)
	}

	result := &model.ScanResult{
		ID:         scanID,
		Mode:       mode,
		Found:      n,
		Registered: []string{},
	}

	if register {
		for _, addr := range found {
			if _, err := s.Register(ctx, addr); err != nil {
				result.Failed = append(result.Failed, addr.String())
				continue
			}
			result.Registered = append(result.Registered, addr.String())
		}
	}

	result.Entries = s.Devices()
	result.Duration = time.Since(started)

	if err := ctx.Err(); err != nil {
		op.Error(err, zap.Int("found", n))
	} else {
		op.Success(zap.Int("found", n), zap.Int("registered", len(result.Registered)))
	}

	s.lastMu.Lock()
	s.lastScan = result
	s.lastMu.Unlock()

	s.emit(events.ScanCompleted, map[string]interface{}{
		"scan_id":    scanID,
		"mode":       string(mode),
		"found":      n,
		"registered": result.Registered,
	})
	return result, nil
}

// AutoRegister reports whether scans register found devices by default.
func (s *BusService) AutoRegister() bool { return s.config.AutoRegister }

// LastScan returns the most recent scan result, if any.
func (s *BusService) LastScan() (*model.ScanResult, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastScan, s.lastScan != nil
}

// Register binds drivers to the scanned device at addr.
func (s *BusService) Register(ctx context.Context, addr bus.Address) (*driver.Instance, error) {
	desc, _ := s.scanner.Find(addr)
	devLogger := utils.NewBusLogger(s.logger.Logger, addr.String(), desc.VendorName, desc.ProductName)

	inst, err := s.registry.Register(ctx, addr)
	devLogger.LogRegistration(capabilities(inst), err)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", addr, err)
	}

	s.emit(events.DeviceRegistered, map[string]interface{}{
		"address":      addr.String(),
		"product":      inst.Descriptor.ProductName,
		"capabilities": inst.Capabilities(),
	})

	s.hookMu.RLock()
	hooks := append([]RegisteredFunc(nil), s.onRegistered...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, inst)
	}
	return inst, nil
}

// Unregister drops the instance at addr. It reports whether one existed.
func (s *BusService) Unregister(ctx context.Context, addr bus.Address) bool {
	if !s.registry.Unregister(addr) {
		return false
	}

	s.hookMu.RLock()
	hooks := append([]RemovedFunc(nil), s.onRemoved...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, addr)
	}

	s.emit(events.DeviceRemoved, map[string]interface{}{"address": addr.String()})
	s.logger.Info("Device unregistered", zap.Stringer("address", addr))
	return true
}

// Devices renders the current scan results.
func (s *BusService) Devices() []model.DeviceEntry {
	entries := s.scanner.Entries()
	out := make([]model.DeviceEntry, 0, len(entries))
	for _, e := range entries {
		_, registered := s.registry.Get(e.Address)
		out = append(out, model.NewDeviceEntry(e, registered))
	}
	return out
}

// Device renders the scan result at addr.
func (s *BusService) Device(addr bus.Address) (model.DeviceEntry, error) {
	e, ok := s.scanner.Entry(addr)
	if !ok {
		return model.DeviceEntry{}, fmt.Errorf("%w: no device at %s", bus.ErrNotFound, addr)
	}
	_, registered := s.registry.Get(addr)
	return model.NewDeviceEntry(e, registered), nil
}

// ClearDevices empties the scan results. Registered instances stay.
func (s *BusService) ClearDevices() {
	s.scanner.Clear()
	s.logger.Info("Scan results cleared")
}

// Instances returns registered instances in registration order.
func (s *BusService) Instances() []*driver.Instance {
	return s.registry.Instances()
}

// Instance returns the instance registered at addr.
func (s *BusService) Instance(addr bus.Address) (*driver.Instance, error) {
	inst, ok := s.registry.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no driver registered at %s", bus.ErrNotFound, addr)
	}
	return inst, nil
}

// EnumerateDrivers walks registered instances in registration order.
func (s *BusService) EnumerateDrivers(cb driver.EnumerateFunc) {
	s.registry.Enumerate(cb)
}

// CheckPresence re-probes every scan entry and publishes status changes.
// A registered device that comes back Connected after a drop is registered
// again so its drivers are reinitialised.
func (s *BusService) CheckPresence(ctx context.Context) []StatusChange {
	before := make(map[string]discovery.Status)
	for _, e := range s.scanner.Entries() {
		before[e.Address.String()] = e.Status
	}

	var changes []StatusChange
	for _, e := range s.scanner.Refresh(ctx) {
		old, ok := before[e.Address.String()]
		if !ok || old == e.Status {
			continue
		}
		changes = append(changes, StatusChange{Address: e.Address, Old: old, New: e.Status})
	}

	for _, c := range changes {
		desc, _ := s.scanner.Find(c.Address)
		utils.NewBusLogger(s.logger.Logger, c.Address.String(), desc.VendorName, desc.ProductName).
			LogStatus(c.Old.String(), c.New.String())

		s.emit(events.DeviceStatus, map[string]interface{}{
			"address":    c.Address.String(),
			"old_status": c.Old.String(),
			"new_status": c.New.String(),
		})

		if !s.config.AutoRegister {
			continue
		}
		returned := (c.Old == discovery.StatusDisconnected || c.Old == discovery.StatusTimeout) &&
			(c.New == discovery.StatusConnected || c.New == discovery.StatusProbed)
		if _, registered := s.registry.Get(c.Address); returned && registered {
			if _, err := s.Register(ctx, c.Address); err != nil {
				s.logger.Warn("Re-registration failed", zap.Stringer("address", c.Address), zap.Error(err))
			}
		}
	}
	return changes
}

// RunPresenceMonitor calls CheckPresence every interval until ctx is done.
func (s *BusService) RunPresenceMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Presence monitor started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Presence monitor stopped")
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			s.CheckPresence(checkCtx)
			cancel()
		}
	}
}

func (s *BusService) emit(t events.Type, data map[string]interface{}) {
	if s.events != nil {
		s.events.Emit(t, "bus-service", data)
	}
}

func capabilities(inst *driver.Instance) []string {
	if inst == nil {
		return nil
	}
	return inst.Capabilities()
}
