package i2cbus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"maus-bus/internal/bus"
)

// recorder implements drivers.I2C and records the last transaction.
type recorder struct {
	addr  uint16
	w     []byte
	rn    int
	reply []byte
	err   error
}

func (r *recorder) Tx(addr uint16, w, rd []byte) error {
	r.addr = addr
	r.w = append([]byte(nil), w...)
	r.rn = len(rd)
	copy(rd, r.reply)
	return r.err
}

func TestRegisterRead(t *testing.T) {
	rec := &recorder{reply: []byte{0xFE, 0xCA}}
	tr := New(rec)

	buf := make([]byte, 2)
	if err := tr.Read(context.Background(), 0x50, 0x00, buf); err != nil {
		t.Fatal(err)
	}
	if rec.addr != 0x50 || !bytes.Equal(rec.w, []byte{0x00}) || rec.rn != 2 {
		t.Fatalf("tx = %+v", rec)
	}
	if !bytes.Equal(buf, []byte{0xFE, 0xCA}) {
		t.Fatalf("buf = %x", buf)
	}
}

func TestRegisterWritePrefixesSubaddress(t *testing.T) {
	rec := &recorder{}
	tr := New(rec)
	if err := tr.Write(context.Background(), 0x4D, 0x18, []byte{0x80, 0x01}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rec.w, []byte{0x18, 0x80, 0x01}) || rec.rn != 0 {
		t.Fatalf("tx = %+v", rec)
	}
}

func TestErrorsMapToCodes(t *testing.T) {
	rec := &recorder{err: errors.New("nack")}
	tr := New(rec)
	if err := tr.Probe(context.Background(), 0x10); bus.CodeOf(err) != bus.Fail {
		t.Fatalf("nack = %v", err)
	}

	rec.err = bus.ErrTimeout
	if err := tr.Probe(context.Background(), 0x10); !errors.Is(err, bus.ErrTimeout) {
		t.Fatalf("timeout = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Read(ctx, 0x10, 0, make([]byte, 1)); !errors.Is(err, bus.ErrTimeout) {
		t.Fatalf("cancelled = %v", err)
	}
}
