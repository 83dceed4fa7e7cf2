package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/config"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver"
	"maus-bus/internal/events"
	"maus-bus/internal/model"
	"maus-bus/internal/repository"
	"maus-bus/internal/transport/sim"
)

type fixture struct {
	sim     *sim.Bus
	events  *events.Bus
	busSvc  *BusService
	drivers *DriverService
	defs    *fakeDefinitionRepo
	reports *fakeReportRepo
}

func newFixture(t *testing.T, withRepos bool) *fixture {
	t.Helper()
	s := sim.New()
	b := bus.New(s)
	logger := zap.NewNop()

	eb := events.NewBus(logger)
	go eb.Start()
	t.Cleanup(eb.Stop)

	scanner := discovery.NewScanner(b, logger)
	registry := driver.NewRegistry(b, scanner, logger)
	driver.RegisterDefaultDrivers(registry, driver.DefaultChipAddresses, logger)

	busCfg := &config.BusConfig{ScanMode: "quick", AutoRegister: true}
	drvCfg := &config.DriversConfig{AutoBind: true, PersistReports: true}

	f := &fixture{sim: s, events: eb}
	var defRepo repository.DefinitionRepository
	var reportRepo repository.ReportRepository
	if withRepos {
		f.defs = newFakeDefinitionRepo()
		f.reports = &fakeReportRepo{}
		defRepo, reportRepo = f.defs, f.reports
	}

	f.busSvc = NewBusService(scanner, registry, eb, busCfg, logger)
	f.drivers = NewDriverService(registry, defRepo, reportRepo, eb, drvCfg, time.Second, logger)
	f.busSvc.OnRegistered(func(ctx context.Context, inst *driver.Instance) {
		f.drivers.Bind(ctx, inst)
	})
	f.busSvc.OnRemoved(f.drivers.Unbind)
	return f
}

func accessory(vid, pid, serial uint16, features bus.Features) bus.Descriptor {
	return bus.Descriptor{
		Guard:       bus.GuardSentinel,
		VendorID:    vid,
		ProductID:   pid,
		Serial:      serial,
		Features:    features,
		VendorName:  "Maus-Tec Electronics",
		ProductName: "MB-232T",
	}
}

// attachSerialBoard places an identified serial+GPIO accessory with its
// bridge and expander chips on the simulated bus.
func (f *fixture) attachSerialBoard() (uart, gpio *sim.Device) {
	f.sim.AttachEEPROM(0x50, accessory(0x1234, 0x0001, 42, bus.FeatureSerial|bus.FeatureGPIO))
	return f.sim.Attach(0x4D), f.sim.Attach(0x20)
}

func waitFor(t *testing.T, ch <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before %s", typ)
			}
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

type fakeDefinitionRepo struct {
	mu   sync.Mutex
	defs map[uuid.UUID]*model.Definition
	vars map[uuid.UUID]map[string]int
	seq  int
}

func newFakeDefinitionRepo() *fakeDefinitionRepo {
	return &fakeDefinitionRepo{
		defs: make(map[uuid.UUID]*model.Definition),
		vars: make(map[uuid.UUID]map[string]int),
	}
}

func (r *fakeDefinitionRepo) Create(_ context.Context, def *model.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	def.CreatedAt = time.Unix(int64(r.seq), 0)
	def.UpdatedAt = def.CreatedAt
	cp := *def
	r.defs[def.ID] = &cp
	return nil
}

func (r *fakeDefinitionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return def, nil
}

func (r *fakeDefinitionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.defs, id)
	delete(r.vars, id)
	return nil
}

func (r *fakeDefinitionRepo) List(_ context.Context) ([]*model.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeDefinitionRepo) SaveVariables(_ context.Context, id uuid.UUID, vars map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]int, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	r.vars[id] = cp
	return nil
}

func (r *fakeDefinitionRepo) LoadVariables(_ context.Context, id uuid.UUID) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]int)
	for k, v := range r.vars[id] {
		cp[k] = v
	}
	return cp, nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports []*model.ActionReportRecord
}

func (r *fakeReportRepo) Create(_ context.Context, rec *model.ActionReportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.CreatedAt = time.Now()
	r.reports = append(r.reports, rec)
	return nil
}

func (r *fakeReportRepo) ListByDefinition(_ context.Context, id uuid.UUID, limit int) ([]*model.ActionReportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ActionReportRecord
	for i := len(r.reports) - 1; i >= 0 && len(out) < limit; i-- {
		if r.reports[i].DefinitionID == id {
			out = append(out, r.reports[i])
		}
	}
	return out, nil
}

func (r *fakeReportRepo) DeleteOlderThan(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.reports[:0]
	var n int64
	for _, rec := range r.reports {
		if rec.CreatedAt.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	r.reports = kept
	return n, nil
}

func (r *fakeReportRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}
