package bus

import (
	"bytes"
	"errors"
	"testing"
)

func TestAddressEqualIsSymmetricAndReflexive(t *testing.T) {
	addrs := []Address{
		MustAddress(0x50),
		MustAddress(0x69),
		MustAddress(0x70, 0x50),
		MustAddress(0x70, 0x51),
		MustAddress(0x70, 0x50, 0x20),
	}
	for _, a := range addrs {
		if !a.Equal(a) {
			t.Fatalf("%s not equal to itself", a)
		}
		for _, b := range addrs {
			if a.Equal(b) != b.Equal(a) {
				t.Fatalf("equal(%s,%s) != equal(%s,%s)", a, b, b, a)
			}
		}
	}
}

func TestAddressPrefixNeverEqualsExtension(t *testing.T) {
	one := MustAddress(0x70)
	two := MustAddress(0x70, 0x50)
	if one.Equal(two) || two.Equal(one) {
		t.Fatal("one-hop prefix compared equal to its two-hop extension")
	}
}

func TestAddressDepthCountsEachHopOnce(t *testing.T) {
	cases := []struct {
		hops []byte
		want int
	}{
		{[]byte{0x50}, 1},
		{[]byte{0x70, 0x50}, 2},
		{[]byte{0x70, 0x71, 0x72, 0x50}, 4},
	}
	for _, tc := range cases {
		a := MustAddress(tc.hops...)
		if got := a.Depth(); got != tc.want {
			t.Errorf("Depth(%v) = %d, want %d", tc.hops, got, tc.want)
		}
		wire, _ := a.MarshalBinary()
		if len(wire) != tc.want+1 || wire[len(wire)-1] != 0 {
			t.Errorf("wire form %v should be %d hops plus terminator", wire, tc.want)
		}
	}
}

func TestAddressString(t *testing.T) {
	cases := map[string]Address{
		"50":       MustAddress(0x50),
		"0A":       MustAddress(0x0A),
		"70:50":    MustAddress(0x70, 0x50),
		"7F:01:2B": MustAddress(0x7F, 0x01, 0x2B),
	}
	for want, a := range cases {
		if got := a.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
		back, err := ParseAddress(want)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", want, err)
		}
		if !back.Equal(a) {
			t.Errorf("ParseAddress(%q) = %s", want, back)
		}
	}
}

func TestNewAddressRejectsOutOfRangeHops(t *testing.T) {
	for _, hops := range [][]byte{{}, {0x00}, {0x80}, {0x50, 0x00}, {0xFF}} {
		if _, err := NewAddress(hops...); err == nil {
			t.Errorf("NewAddress(%v) succeeded", hops)
		}
	}
	if _, err := NewAddress(0x80); !errors.Is(err, ErrInvalidHop) {
		t.Errorf("want ErrInvalidHop, got %v", err)
	}
}

func TestAddressFromWire(t *testing.T) {
	a, err := AddressFromWire([]byte{0x70, 0x50, 0x00, 0x99})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Hops(), []byte{0x70, 0x50}) {
		t.Fatalf("hops = %v", a.Hops())
	}
	if a.Final() != 0x50 {
		t.Fatalf("final = 0x%02X", a.Final())
	}
	if _, err := AddressFromWire([]byte{0x70, 0x50}); !errors.Is(err, ErrUnterminated) {
		t.Fatalf("want ErrUnterminated, got %v", err)
	}
}

func TestAddressHopsIsACopy(t *testing.T) {
	a := MustAddress(0x70, 0x50)
	h := a.Hops()
	h[0] = 0x01
	if a.Hops()[0] != 0x70 {
		t.Fatal("mutating Hops() changed the address")
	}
}

func TestParseAddressMalformed(t *testing.T) {
	for _, s := range []string{"", ":", "50:", "G0", "123", "70::50"} {
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q) succeeded", s)
		}
	}
}
