// internal/service/driver_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/config"
	"maus-bus/internal/driver"
	"maus-bus/internal/drivercfg"
	"maus-bus/internal/events"
	"maus-bus/internal/model"
	"maus-bus/internal/repository"
	"maus-bus/internal/utils"
)

// Events every bound config may define. Both receive the final hop of the
// device address as their argument.
const (
	EventAttached = "attached"
	EventDetached = "detached"
)

// DriverService owns driver definitions, their binding to registered
// devices and interpreter invocations.
type DriverService struct {
	store       *drivercfg.Store
	interpreter *drivercfg.Interpreter
	registry    *driver.Registry
	defRepo     repository.DefinitionRepository
	reportRepo  repository.ReportRepository
	events      *events.Bus
	config      *config.DriversConfig
	opTimeout   time.Duration
	logger      *utils.ServiceLogger
	audit       *utils.AuditLogger

	mu        sync.RWMutex
	bindings  map[string]string // device address -> config ID
	persisted map[string]bool   // config IDs stored in the database
}

// NewDriverService creates a new driver service. defRepo and reportRepo may
// be nil when the database is disabled.
func NewDriverService(
	registry *driver.Registry,
	defRepo repository.DefinitionRepository,
	reportRepo repository.ReportRepository,
	eventBus *events.Bus,
	cfg *config.DriversConfig,
	opTimeout time.Duration,
	logger *zap.Logger,
) *DriverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := drivercfg.NewStore(logger.Named("drivercfg"))
	s := &DriverService{
		store:      store,
		registry:   registry,
		defRepo:    defRepo,
		reportRepo: reportRepo,
		events:     eventBus,
		config:     cfg,
		opTimeout:  opTimeout,
		logger:     utils.NewServiceLogger(logger, "driver-service"),
		audit:      utils.NewAuditLogger(logger),
		bindings:   make(map[string]string),
		persisted:  make(map[string]bool),
	}
	system := drivercfg.NewSystemFunctions()
	s.interpreter = drivercfg.NewInterpreter(store, system, logger.Named("interpreter"))
	s.registerBuiltins(system)
	return s
}

// Store exposes the config store.
func (s *DriverService) Store() *drivercfg.Store { return s.store }

// SystemFunctions exposes the native callback registry so the host can add
// more functions.
func (s *DriverService) SystemFunctions() *drivercfg.SystemFunctions {
	return s.interpreter.SystemFunctions()
}

// LoadDefinitions loads every definition file from the definitions
// directory, then every definition stored in the database together with
// its saved variables.
func (s *DriverService) LoadDefinitions(ctx context.Context) (int, error) {
	total := 0
	if dir := s.config.DefinitionsDir; dir != "" {
		loaded, err := s.store.LoadDir(dir)
		if err != nil {
			return 0, fmt.Errorf("failed to load definitions from %s: %w", dir, err)
		}
		for _, cfg := range loaded {
			s.audit.LogDefinitionLoaded(cfg.ID, cfg.DisplayName, string(model.DefinitionSourceFile), len(cfg.Warnings))
		}
		total += len(loaded)
	}

	if s.defRepo == nil {
		return total, nil
	}

	defs, err := s.defRepo.List(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to list stored definitions: %w", err)
	}
	for _, def := range defs {
		cfg, err := s.store.LoadWithID(def.ID.String(), def.Document)
		if err != nil {
			s.logger.Error("Stored definition rejected", zap.String("id", def.ID.String()), zap.Error(err))
			continue
		}
		vars, err := s.defRepo.LoadVariables(ctx, def.ID)
		if err != nil {
			s.logger.Warn("Failed to restore variables", zap.String("id", def.ID.String()), zap.Error(err))
		}
		for name, v := range vars {
			cfg.SetVariable(name, v)
		}

		s.mu.Lock()
		s.persisted[cfg.ID] = true
		s.mu.Unlock()

		s.audit.LogDefinitionLoaded(cfg.ID, cfg.DisplayName, string(def.Source), len(cfg.Warnings))
		total++
	}
	return total, nil
}

// Load adds a definition document. It is stored when the database is
// enabled and bound to every matching registered device that has no
// binding yet when auto-binding is on.
func (s *DriverService) Load(ctx context.Context, doc []byte) (*drivercfg.Config, error) {
	cfg, err := s.store.Load(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	if s.defRepo != nil {
		if err := s.persist(ctx, cfg, doc); err != nil {
			s.store.Unload(cfg)
			return nil, err
		}
	}

	s.audit.LogDefinitionLoaded(cfg.ID, cfg.DisplayName, string(model.DefinitionSourceAPI), len(cfg.Warnings))
	s.emit(events.DriverLoaded, map[string]interface{}{
		"config_id":    cfg.ID,
		"display_name": cfg.DisplayName,
		"functions":    cfg.FunctionNames(),
		"events":       cfg.EventNames(),
	})

	if s.config.AutoBind && cfg.AutoMatches() {
		for _, inst := range s.registry.Instances() {
			if _, bound := s.bindingOf(inst.Address); bound {
				continue
			}
			if match, ok := s.store.FindFor(inst.Descriptor); ok && match == cfg {
				s.bindTo(ctx, inst, cfg)
			}
		}
	}
	return cfg, nil
}

func (s *DriverService) persist(ctx context.Context, cfg *drivercfg.Config, doc []byte) error {
	id, err := uuid.Parse(cfg.ID)
	if err != nil {
		return fmt.Errorf("invalid config id %q: %w", cfg.ID, err)
	}
	def := &model.Definition{
		ID:          id,
		DisplayName: cfg.DisplayName,
		Document:    model.JSONDocument(doc),
		Source:      model.DefinitionSourceAPI,
	}
	if m := cfg.Match; m != nil {
		def.MatchVID = m.VendorID
		def.MatchPID = m.ProductID
		if m.Serial != "" {
			serial := m.Serial
			def.MatchSerial = &serial
		}
	}
	if err := s.defRepo.Create(ctx, def); err != nil {
		return err
	}
	if vars := cfg.Variables(); len(vars) > 0 {
		if err := s.defRepo.SaveVariables(ctx, id, vars); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.persisted[cfg.ID] = true
	s.mu.Unlock()
	return nil
}

// Unload detaches the config from its devices, removes it from the store
// and deletes its stored copy.
func (s *DriverService) Unload(ctx context.Context, id string) error {
	cfg, err := s.Get(id)
	if err != nil {
		return err
	}

	for _, addr := range s.BoundTo(id) {
		a, err := bus.ParseAddress(addr)
		if err != nil {
			continue
		}
		s.Unbind(ctx, a)
	}

	if !s.store.Unload(cfg) {
		return fmt.Errorf("%w: driver %s", bus.ErrNotFound, id)
	}

	s.mu.Lock()
	stored := s.persisted[id]
	delete(s.persisted, id)
	s.mu.Unlock()

	if stored && s.defRepo != nil {
		if uid, err := uuid.Parse(id); err == nil {
			if err := s.defRepo.Delete(ctx, uid); err != nil && !errors.Is(err, repository.ErrNotFound) {
				s.logger.Error("Failed to delete stored definition", zap.String("id", id), zap.Error(err))
			}
		}
	}

	s.audit.LogDefinitionUnloaded(id, cfg.DisplayName)
	s.emit(events.DriverUnloaded, map[string]interface{}{
		"config_id":    id,
		"display_name": cfg.DisplayName,
	})
	return nil
}

// Get returns the loaded config with the given ID.
func (s *DriverService) Get(id string) (*drivercfg.Config, error) {
	cfg, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", bus.ErrNotFound, id)
	}
	return cfg, nil
}

// Configs returns loaded configs in load order.
func (s *DriverService) Configs() []*drivercfg.Config {
	return s.store.Configs()
}

// EnumerateConfigs calls cb for each loaded config and returns the count.
func (s *DriverService) EnumerateConfigs(cb func(*drivercfg.Config)) int {
	return s.store.Enumerate(cb)
}

// BoundTo lists the addresses bound to config id, in registration order.
func (s *DriverService) BoundTo(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, inst := range s.registry.Instances() {
		addr := inst.Address.String()
		if s.bindings[addr] == id {
			out = append(out, addr)
		}
	}
	return out
}

// ConfigFor returns the config bound to addr.
func (s *DriverService) ConfigFor(addr bus.Address) (*drivercfg.Config, bool) {
	id, ok := s.bindingOf(addr)
	if !ok {
		return nil, false
	}
	return s.store.Get(id)
}

// Bind attaches the first config matching inst's descriptor, in load
// order, and runs its attached event. Auto-binding off or no match leaves
// inst unbound.
func (s *DriverService) Bind(ctx context.Context, inst *driver.Instance) (*drivercfg.Config, bool) {
	if !s.config.AutoBind {
		return nil, false
	}
	cfg, ok := s.store.FindFor(inst.Descriptor)
	if !ok {
		s.logger.Debug("No driver definition matches device",
			zap.Stringer("address", inst.Address),
			zap.Uint16("vendor_id", inst.Descriptor.VendorID),
			zap.Uint16("product_id", inst.Descriptor.ProductID),
		)
		return nil, false
	}
	s.bindTo(ctx, inst, cfg)
	return cfg, true
}

func (s *DriverService) bindTo(ctx context.Context, inst *driver.Instance, cfg *drivercfg.Config) {
	s.mu.Lock()
	s.bindings[inst.Address.String()] = cfg.ID
	s.mu.Unlock()

	s.logger.Info("Driver definition bound",
		zap.Stringer("address", inst.Address),
		zap.String("config_id", cfg.ID),
		zap.String("display_name", cfg.DisplayName),
	)

	if cfg.HasEvent(EventAttached) {
		s.notify(ctx, cfg, EventAttached, drivercfg.IntArg(int(inst.Address.Final())))
	}
}

// Unbind detaches addr from its config and runs the detached event.
func (s *DriverService) Unbind(ctx context.Context, addr bus.Address) {
	key := addr.String()
	s.mu.Lock()
	id, ok := s.bindings[key]
	delete(s.bindings, key)
	s.mu.Unlock()
	if !ok {
		return
	}

	cfg, loaded := s.store.Get(id)
	if !loaded {
		return
	}
	s.logger.Info("Driver definition unbound",
		zap.Stringer("address", addr),
		zap.String("config_id", id),
	)
	if cfg.HasEvent(EventDetached) {
		s.notify(ctx, cfg, EventDetached, drivercfg.IntArg(int(addr.Final())))
	}
}

func (s *DriverService) notify(ctx context.Context, cfg *drivercfg.Config, name string, arg json.RawMessage) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	report, err := s.interpreter.InvokeEvent(ctx, cfg, name, arg)
	if err != nil {
		s.logger.Warn("Event dispatch failed", zap.String("event", name), zap.Error(err))
		return
	}
	s.record(ctx, cfg, report)
}

// InvokeFunction runs a named function of config id.
func (s *DriverService) InvokeFunction(ctx context.Context, id, name string, arg json.RawMessage) (*drivercfg.Report, error) {
	cfg, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	report, err := s.interpreter.InvokeFunction(ctx, cfg, name, arg)
	if err != nil {
		return report, err
	}
	s.record(ctx, cfg, report)
	return report, nil
}

// InvokeEvent delivers a named event to config id.
func (s *DriverService) InvokeEvent(ctx context.Context, id, name string, arg json.RawMessage) (*drivercfg.Report, error) {
	cfg, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	report, err := s.interpreter.InvokeEvent(ctx, cfg, name, arg)
	if err != nil {
		return report, err
	}
	s.record(ctx, cfg, report)
	return report, nil
}

// InvokeAction runs a single action against config id, as if it were the
// only entry of a function.
func (s *DriverService) InvokeAction(ctx context.Context, id string, action drivercfg.Action, arg json.RawMessage) (*drivercfg.Report, error) {
	cfg, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	report, err := s.interpreter.InvokeAction(ctx, cfg, action, arg)
	if err != nil {
		return report, err
	}
	s.record(ctx, cfg, report)
	return report, nil
}

// Broadcast delivers an event to every loaded config that defines it.
func (s *DriverService) Broadcast(ctx context.Context, name string, arg json.RawMessage) []*drivercfg.Report {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reports := s.interpreter.InvokeAllEvents(ctx, name, arg)
	for _, r := range reports {
		if cfg, ok := s.store.Get(r.ConfigID); ok {
			s.record(ctx, cfg, r)
		}
	}
	return reports
}

// Variable returns a variable of config id; unset names read as 0. Only an
// unknown config is an error.
func (s *DriverService) Variable(id, name string) (int, error) {
	cfg, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	return cfg.Variable(name), nil
}

// SetVariable assigns a variable of config id.
func (s *DriverService) SetVariable(ctx context.Context, id, name string, value int) error {
	cfg, err := s.Get(id)
	if err != nil {
		return err
	}
	old := cfg.Variable(name)
	cfg.SetVariable(name, value)
	s.audit.LogVariableChanged(id, name, old, value)
	s.saveVariables(ctx, cfg)
	return nil
}

// Reports returns the newest stored reports of config id.
func (s *DriverService) Reports(ctx context.Context, id string, limit int) ([]*model.ActionReportRecord, error) {
	if s.reportRepo == nil {
		return nil, fmt.Errorf("%w: report storage is disabled", bus.ErrNotSupported)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: driver %s", bus.ErrNotFound, id)
	}
	return s.reportRepo.ListByDefinition(ctx, uid, limit)
}

// PruneReports deletes stored reports older than retention.
func (s *DriverService) PruneReports(ctx context.Context, retention time.Duration) (int64, error) {
	if s.reportRepo == nil || retention <= 0 {
		return 0, nil
	}
	n, err := s.reportRepo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Old action reports pruned", zap.Int64("deleted", n))
	}
	return n, nil
}

// record publishes a finished report, stores it when configured and saves
// variables the actions may have changed.
func (s *DriverService) record(ctx context.Context, cfg *drivercfg.Config, report *drivercfg.Report) {
	s.emit(events.ActionReport, map[string]interface{}{
		"config_id":  report.ConfigID,
		"config":     report.Config,
		"kind":       report.Kind,
		"name":       report.Name,
		"actions":    len(report.Outcomes),
		"failed":     report.Failed(),
		"unresolved": report.Unresolved(),
	})

	s.saveVariables(ctx, cfg)

	if s.reportRepo == nil || !s.config.PersistReports {
		return
	}
	uid, err := uuid.Parse(report.ConfigID)
	if err != nil {
		return
	}
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		s.logger.Error("Failed to encode report", zap.Error(err))
		return
	}
	rec := &model.ActionReportRecord{
		ID:           uuid.New(),
		DefinitionID: uid,
		Kind:         report.Kind,
		Name:         report.Name,
		Outcomes:     model.JSONDocument(outcomes),
		Failed:       report.Failed(),
	}
	if err := s.reportRepo.Create(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("Action report not stored", zap.Error(err))
	}
}

func (s *DriverService) saveVariables(ctx context.Context, cfg *drivercfg.Config) {
	s.mu.RLock()
	stored := s.persisted[cfg.ID]
	s.mu.RUnlock()
	if !stored || s.defRepo == nil {
		return
	}
	uid, err := uuid.Parse(cfg.ID)
	if err != nil {
		return
	}
	if err := s.defRepo.SaveVariables(context.WithoutCancel(ctx), uid, cfg.Variables()); err != nil {
		s.logger.Warn("Variables not saved", zap.String("config_id", cfg.ID), zap.Error(err))
	}
}

func (s *DriverService) bindingOf(addr bus.Address) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bindings[addr.String()]
	return id, ok
}

func (s *DriverService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *DriverService) emit(t events.Type, data map[string]interface{}) {
	if s.events != nil {
		s.events.Emit(t, "driver-service", data)
	}
}
