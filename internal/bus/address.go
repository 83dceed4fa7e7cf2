// internal/bus/address.go
package bus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Hop limits. Zero is reserved as the wire terminator.
const (
	MinHop byte = 0x01
	MaxHop byte = 0x7F
)

var (
	ErrEmptyAddress   = errors.New("maus-bus: empty address")
	ErrInvalidHop     = errors.New("maus-bus: hop out of range")
	ErrUnterminated   = errors.New("maus-bus: address missing terminator")
	ErrMalformedLabel = errors.New("maus-bus: malformed address text")
)

// Address is the path from the bus root through zero or more multiplexer hops
// to a terminal device. The zero value is the empty path.
//
// Hops are held in a string so an Address is immutable and comparable.
type Address struct {
	hops string
}

// NewAddress builds an address from hop bytes in root-to-device order.
func NewAddress(hops ...byte) (Address, error) {
	if len(hops) == 0 {
		return Address{}, ErrEmptyAddress
	}
	for i, h := range hops {
		if h < MinHop || h > MaxHop {
			return Address{}, fmt.Errorf("%w: hop %d is 0x%02X", ErrInvalidHop, i, h)
		}
	}
	return Address{hops: string(hops)}, nil
}

// MustAddress is NewAddress for constant inputs; it panics on invalid hops.
func MustAddress(hops ...byte) Address {
	a, err := NewAddress(hops...)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromWire reads hops up to the zero terminator.
func AddressFromWire(b []byte) (Address, error) {
	for i, h := range b {
		if h == 0x00 {
			return NewAddress(b[:i]...)
		}
	}
	return Address{}, ErrUnterminated
}

// ParseAddress parses the text form produced by String, e.g. "70:50".
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, ErrEmptyAddress
	}
	parts := strings.Split(s, ":")
	hops := make([]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrMalformedLabel, s)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrMalformedLabel, s)
		}
		hops = append(hops, byte(v))
	}
	return NewAddress(hops...)
}

// Depth is the number of hops preceding the terminator.
func (a Address) Depth() int {
	return len(a.hops)
}

// IsZero reports whether a holds no hops.
func (a Address) IsZero() bool { return len(a.hops) == 0 }

// Hops returns a copy of the hop bytes.
func (a Address) Hops() []byte {
	return []byte(a.hops)
}

// Final is the terminal device's bus address, the last hop.
func (a Address) Final() byte {
	if len(a.hops) == 0 {
		return 0
	}
	return a.hops[len(a.hops)-1]
}

// Append returns a new address one hop deeper.
func (a Address) Append(hop byte) (Address, error) {
	if hop < MinHop || hop > MaxHop {
		return Address{}, fmt.Errorf("%w: 0x%02X", ErrInvalidHop, hop)
	}
	return Address{hops: a.hops + string([]byte{hop})}, nil
}

// Equal reports whether both addresses walk the same hops and terminate
// at the same depth. A prefix is never equal to its extension.
func (a Address) Equal(b Address) bool {
	return a.hops == b.hops
}

// String renders hops as uppercase two-digit hex separated by ':'.
func (a Address) String() string {
	if len(a.hops) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(a.hops)*3 - 1)
	for i := 0; i < len(a.hops); i++ {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02X", a.hops[i])
	}
	return sb.String()
}

// MarshalBinary returns the wire form: hops followed by a zero terminator.
func (a Address) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(a.hops)+1)
	out = append(out, a.hops...)
	return append(out, 0x00), nil
}

// UnmarshalBinary decodes the wire form.
func (a *Address) UnmarshalBinary(b []byte) error {
	v, err := AddressFromWire(b)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
