// internal/discovery/scanner.go
package discovery

import (
	"context"
	"errors"
	"sync"

	"maus-bus/internal/bus"

	"go.uber.org/zap"
)

// Status is the presence state of a scan entry.
type Status int

const (
	StatusConnected Status = iota
	StatusProbed
	StatusTimeout
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusProbed:
		return "probed"
	case StatusTimeout:
		return "timeout"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IdentificationAddresses are the bus addresses where identification storage
// is expected. Quick scans only look here.
var IdentificationAddresses = []byte{0x50, bus.SignalAddress}

// ignored holds addresses internal to the host that never host accessories.
var ignored = map[byte]struct{}{
	0x51: {}, 0x52: {}, 0x53: {}, 0x54: {}, 0x55: {}, 0x56: {}, 0x57: {},
}

// MaxScanAddress is the last address a full scan probes.
const MaxScanAddress = 126

// Ignored reports whether addr is skipped by full scans.
func Ignored(addr byte) bool {
	_, ok := ignored[addr]
	return ok
}

// ScanEntry is one device found by a scan.
type ScanEntry struct {
	Address    bus.Address    `json:"address"`
	Descriptor bus.Descriptor `json:"descriptor"`
	Status     Status         `json:"status"`
}

// FoundFunc is called once for every device a scan appends. It runs while
// the scan holds the scanner and must not call Lookup, Refresh, Clear or
// start another scan.
type FoundFunc func(desc bus.Descriptor, addr bus.Address)

// Scanner walks the bus and keeps the ordered result set.
type Scanner struct {
	bus    *bus.Bus
	logger *zap.Logger

	// scanMu serializes whole scans and registration lookups against clears.
	scanMu sync.Mutex

	mu      sync.RWMutex
	entries []ScanEntry
}

// NewScanner creates a scanner over b. A nil logger is replaced by a no-op.
func NewScanner(b *bus.Bus, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{bus: b, logger: logger}
}

// ScanQuick reads the identification storage at every known address and
// appends an entry for each initialized descriptor. Prior results are kept,
// so repeated calls accumulate duplicates until Clear is called.
func (s *Scanner) ScanQuick(ctx context.Context, cb FoundFunc) int {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.scanQuick(ctx, cb)
}

func (s *Scanner) scanQuick(ctx context.Context, cb FoundFunc) int {
	count := 0
	for _, addr := range IdentificationAddresses {
		desc, ok := s.readDescriptor(ctx, addr)
		if !ok {
			continue
		}
		entry := ScanEntry{
			Address:    bus.MustAddress(addr),
			Descriptor: desc,
			Status:     StatusConnected,
		}
		s.append(entry)
		count++

		s.logger.Info("Device identified",
			zap.Stringer("address", entry.Address),
			zap.String("vendor", desc.VendorName),
			zap.String("product", desc.ProductName),
			zap.Strings("features", desc.Features.Names()),
		)
		if cb != nil {
			cb(desc, entry.Address)
		}
	}
	return count
}

// readDescriptor returns the descriptor at addr when its guard is set.
// Any transfer failure means the candidate is absent.
func (s *Scanner) readDescriptor(ctx context.Context, addr byte) (bus.Descriptor, bool) {
	var guard [2]byte
	if err := s.bus.Read(ctx, addr, 0x00, guard[:]); err != nil {
		return bus.Descriptor{}, false
	}
	if uint16(guard[0])|uint16(guard[1])<<8 != bus.GuardSentinel {
		return bus.Descriptor{}, false
	}

	raw := make([]byte, bus.DescriptorSize)
	if err := s.bus.Read(ctx, addr, 0x00, raw); err != nil {
		s.logger.Warn("Descriptor read aborted",
			zap.Uint8("addr", addr),
			zap.Error(err),
		)
		return bus.Descriptor{}, false
	}
	desc, err := bus.ParseDescriptor(raw)
	if err != nil || !desc.Valid() {
		return bus.Descriptor{}, false
	}
	return desc, true
}

// ScanFull runs a quick scan, then probes every remaining address that is
// neither already known nor ignored. Devices that answer without
// identification storage get a placeholder descriptor.
func (s *Scanner) ScanFull(ctx context.Context, cb FoundFunc) int {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	count := s.scanQuick(ctx, cb)

	// Zero is the wire terminator and cannot be a hop.
	for a := int(bus.MinHop); a <= MaxScanAddress; a++ {
		if ctx.Err() != nil {
			s.logger.Warn("Full scan cancelled", zap.Int("next_addr", a))
			break
		}
		addr := byte(a)
		if Ignored(addr) {
			continue
		}
		address := bus.MustAddress(addr)
		if s.present(address) {
			continue
		}
		if err := s.bus.Probe(ctx, addr); err != nil {
			continue
		}

		desc := bus.UnknownDescriptor(addr)
		s.append(ScanEntry{Address: address, Descriptor: desc, Status: StatusProbed})
		count++

		s.logger.Debug("Device answered probe", zap.Stringer("address", address))
		if cb != nil {
			cb(desc, address)
		}
	}

	s.logger.Info("Full scan completed", zap.Int("devices_found", count))
	return count
}

// Refresh re-probes every entry and updates its status.
func (s *Scanner) Refresh(ctx context.Context) []ScanEntry {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	snapshot := s.Entries()
	for i := range snapshot {
		e := &snapshot[i]
		err := s.bus.Probe(ctx, e.Address.Final())
		switch {
		case err == nil:
			if e.Status != StatusProbed {
				e.Status = StatusConnected
			}
		case errors.Is(err, bus.ErrTimeout):
			e.Status = StatusTimeout
		default:
			e.Status = StatusDisconnected
		}
	}

	s.mu.Lock()
	// The list only changes under scanMu, so indexes still line up.
	for i := range snapshot {
		s.entries[i].Status = snapshot[i].Status
	}
	s.mu.Unlock()
	return snapshot
}

// Clear releases every scan entry.
func (s *Scanner) Clear() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.mu.Unlock()
	s.logger.Debug("Scan results cleared", zap.Int("entries", n))
}

// Find returns the descriptor recorded for addr.
func (s *Scanner) Find(addr bus.Address) (bus.Descriptor, bool) {
	e, ok := s.find(addr)
	return e.Descriptor, ok
}

// Entry returns a copy of the entry at addr without waiting for a scan in
// progress. Use Lookup when the copy must be consistent with Clear.
func (s *Scanner) Entry(addr bus.Address) (ScanEntry, bool) {
	return s.find(addr)
}

// Lookup returns a copy of the entry at addr. It holds the scan lock so the
// entry cannot be cleared while it is copied.
func (s *Scanner) Lookup(addr bus.Address) (ScanEntry, bool) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.find(addr)
}

// Entries returns a snapshot of the result set in discovery order.
func (s *Scanner) Entries() []ScanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScanEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len is the number of entries in the result set.
func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Scanner) find(addr bus.Address) (ScanEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Address.Equal(addr) {
			return e, true
		}
	}
	return ScanEntry{}, false
}

func (s *Scanner) present(addr bus.Address) bool {
	_, ok := s.find(addr)
	return ok
}

func (s *Scanner) append(e ScanEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}
