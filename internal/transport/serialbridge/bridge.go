// internal/transport/serialbridge/bridge.go
package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"maus-bus/internal/bus"
)

// Frame opcodes. A request is op, addr, subaddr, length and, for writes,
// the payload. The reply is one status byte followed, for reads, by
// length bytes.
const (
	OpRead  byte = 'R'
	OpWrite byte = 'W'
	OpProbe byte = 'P'

	StatusOK      byte = 0x00
	StatusNACK    byte = 0x01
	StatusTimeout byte = 0x02

	// MaxTransfer is the largest payload one frame carries.
	MaxTransfer = 255
)

// Stats provides transfer statistics.
type Stats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Bridge speaks the bridge framing over any byte stream. Frames are
// strictly request/response, so one transfer runs at a time.
type Bridge struct {
	conn   io.ReadWriteCloser
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

var _ bus.Transport = (*Bridge)(nil)

// New wraps an already open stream.
func New(conn io.ReadWriteCloser, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{conn: conn, logger: logger}
}

func (b *Bridge) Read(ctx context.Context, addr, subaddr byte, buf []byte) error {
	if len(buf) > MaxTransfer {
		// Each chunk is addressed explicitly, so the range must fit below 0x100.
		if int(subaddr)+len(buf) > 0x100 {
			return fmt.Errorf("%w: read of %d bytes at sub-address 0x%02X crosses 0xFF",
				bus.ErrNotSupported, len(buf), subaddr)
		}
		for off := 0; off < len(buf); off += MaxTransfer {
			end := min(off+MaxTransfer, len(buf))
			if err := b.Read(ctx, addr, subaddr+byte(off), buf[off:end]); err != nil {
				return err
			}
		}
		return nil
	}
	return b.transfer(ctx, []byte{OpRead, addr, subaddr, byte(len(buf))}, buf)
}

func (b *Bridge) Write(ctx context.Context, addr, subaddr byte, data []byte) error {
	if len(data) > MaxTransfer {
		return fmt.Errorf("%w: write of %d bytes", bus.ErrNotSupported, len(data))
	}
	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, OpWrite, addr, subaddr, byte(len(data)))
	frame = append(frame, data...)
	return b.transfer(ctx, frame, nil)
}

func (b *Bridge) Probe(ctx context.Context, addr byte) error {
	return b.transfer(ctx, []byte{OpProbe, addr, 0x00, 0x00}, nil)
}

func (b *Bridge) transfer(ctx context.Context, frame, reply []byte) error {
	if err := ctx.Err(); err != nil {
		return bus.ErrTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	err := b.exchange(frame, reply)
	b.record(len(frame), len(reply), time.Since(start), err)
	if err != nil {
		b.logger.Debug("Bridge transfer failed",
			zap.String("op", string(frame[0])),
			zap.Uint8("addr", frame[1]),
			zap.Error(err),
		)
	}
	return err
}

func (b *Bridge) exchange(frame, reply []byte) error {
	if _, err := b.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: bridge write: %v", bus.ErrFail, err)
	}

	var status [1]byte
	if err := readFull(b.conn, status[:]); err != nil {
		return err
	}
	switch status[0] {
	case StatusOK:
	case StatusTimeout:
		return bus.ErrTimeout
	default:
		return bus.ErrFail
	}

	if len(reply) == 0 {
		return nil
	}
	return readFull(b.conn, reply)
}

// readFull treats a read that returns nothing as the port's read timeout
// expiring.
func readFull(r io.Reader, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		n += m
		switch {
		case err != nil && !errors.Is(err, io.EOF):
			return fmt.Errorf("%w: bridge read: %v", bus.ErrFail, err)
		case err != nil && n < len(buf):
			return bus.ErrFail
		case m == 0 && err == nil:
			return bus.ErrTimeout
		}
	}
	return nil
}

func (b *Bridge) record(wrote, read int, took time.Duration, err error) {
	b.stats.OperationCount++
	b.stats.LastActivity = time.Now()
	if err != nil {
		b.stats.ErrorCount++
		return
	}
	b.stats.BytesWritten += int64(wrote)
	b.stats.BytesRead += int64(read)
	if b.stats.AverageLatency == 0 {
		b.stats.AverageLatency = took
	} else {
		b.stats.AverageLatency = (b.stats.AverageLatency + took) / 2
	}
}

// Stats returns a copy of the transfer statistics.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close closes the underlying stream.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close bridge: %w", err)
	}
	b.logger.Info("Bridge closed")
	return nil
}
