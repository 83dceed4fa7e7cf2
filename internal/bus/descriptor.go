// internal/bus/descriptor.go
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Descriptor layout, little-endian, no padding.
const (
	DescriptorSize = 0x40
	GuardSentinel  = 0xCAFE

	offGuard              = 0x00
	offVendorID           = 0x02
	offProductID          = 0x04
	offSerial             = 0x06
	offProductType        = 0x08
	offFeatureConfigCount = 0x0A
	offUserDataAddress    = 0x0B
	offFeatureFlags       = 0x0C
	offVendorName         = 0x10
	offProductName        = 0x28

	nameFieldSize = 24
	// NameMaxLength is the number of visible characters a name field holds.
	NameMaxLength = nameFieldSize - 1

	// FeatureConfigOffset is where extended feature-config entries begin.
	FeatureConfigOffset = 0x40
)

// Field locates one descriptor field in the wire form.
type Field struct {
	Name   string
	Offset int
	Size   int
}

// DescriptorLayout lists the wire fields in offset order.
var DescriptorLayout = []Field{
	{"guard", offGuard, 2},
	{"vendor_id", offVendorID, 2},
	{"product_id", offProductID, 2},
	{"serial", offSerial, 2},
	{"product_type", offProductType, 2},
	{"feature_config_count", offFeatureConfigCount, 1},
	{"user_data_address", offUserDataAddress, 1},
	{"feature_flags", offFeatureFlags, 4},
	{"vendor_name", offVendorName, nameFieldSize},
	{"product_name", offProductName, nameFieldSize},
}

var ErrShortDescriptor = errors.New("maus-bus: descriptor shorter than 64 bytes")

// Features is the 32-bit feature-flags word. Reserved bits are preserved.
type Features uint32

const (
	FeatureTSCode Features = 1 << 0
	FeatureSerial Features = 1 << 1
	FeatureGPIO   Features = 1 << 2
)

func (f Features) TSCode() bool { return f&FeatureTSCode != 0 }
func (f Features) Serial() bool { return f&FeatureSerial != 0 }
func (f Features) GPIO() bool   { return f&FeatureGPIO != 0 }

// Names lists the capability bits that are set.
func (f Features) Names() []string {
	names := make([]string, 0, 3)
	if f.TSCode() {
		names = append(names, "tscode")
	}
	if f.Serial() {
		names = append(names, "serial")
	}
	if f.GPIO() {
		names = append(names, "gpio")
	}
	return names
}

// FeaturesFromNames is the inverse of Names. Matching is case-insensitive.
func FeaturesFromNames(names []string) (Features, error) {
	var f Features
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "tscode":
			f |= FeatureTSCode
		case "serial":
			f |= FeatureSerial
		case "gpio":
			f |= FeatureGPIO
		default:
			return 0, fmt.Errorf("%w: unknown feature %q", ErrNotSupported, n)
		}
	}
	return f, nil
}

// ProductType carries a category in the high byte and a subtype in the low byte.
type ProductType uint16

func (p ProductType) Category() uint8 { return uint8(p >> 8) }
func (p ProductType) Subtype() uint8  { return uint8(p) }

// Descriptor is the identification record stored at offset 0 of a device's
// ID storage.
type Descriptor struct {
	Guard              uint16      `json:"guard"`
	VendorID           uint16      `json:"vendor_id"`
	ProductID          uint16      `json:"product_id"`
	Serial             uint16      `json:"serial"`
	ProductType        ProductType `json:"product_type"`
	FeatureConfigCount uint8       `json:"feature_config_count"`
	UserDataAddress    uint8       `json:"user_data_address"`
	Features           Features    `json:"feature_flags"`
	VendorName         string      `json:"vendor_name"`
	ProductName        string      `json:"product_name"`
}

// ParseDescriptor decodes the first 64 bytes of b. Name fields are cut at
// the first NUL and never exceed NameMaxLength, whatever the source holds.
func ParseDescriptor(b []byte) (Descriptor, error) {
	if len(b) < DescriptorSize {
		return Descriptor{}, fmt.Errorf("%w: got %d", ErrShortDescriptor, len(b))
	}
	le := binary.LittleEndian
	return Descriptor{
		Guard:              le.Uint16(b[offGuard:]),
		VendorID:           le.Uint16(b[offVendorID:]),
		ProductID:          le.Uint16(b[offProductID:]),
		Serial:             le.Uint16(b[offSerial:]),
		ProductType:        ProductType(le.Uint16(b[offProductType:])),
		FeatureConfigCount: b[offFeatureConfigCount],
		UserDataAddress:    b[offUserDataAddress],
		Features:           Features(le.Uint32(b[offFeatureFlags:])),
		VendorName:         cString(b[offVendorName : offVendorName+NameMaxLength]),
		ProductName:        cString(b[offProductName : offProductName+NameMaxLength]),
	}, nil
}

// MarshalBinary encodes d into its 64-byte wire form. Names longer than
// NameMaxLength are truncated; the final byte of each name field is always NUL.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	b := make([]byte, DescriptorSize)
	le := binary.LittleEndian
	le.PutUint16(b[offGuard:], d.Guard)
	le.PutUint16(b[offVendorID:], d.VendorID)
	le.PutUint16(b[offProductID:], d.ProductID)
	le.PutUint16(b[offSerial:], d.Serial)
	le.PutUint16(b[offProductType:], uint16(d.ProductType))
	b[offFeatureConfigCount] = d.FeatureConfigCount
	b[offUserDataAddress] = d.UserDataAddress
	le.PutUint32(b[offFeatureFlags:], uint32(d.Features))
	copy(b[offVendorName:offVendorName+NameMaxLength], d.VendorName)
	copy(b[offProductName:offProductName+NameMaxLength], d.ProductName)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	v, err := ParseDescriptor(b)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Valid reports whether the guard carries the initialization sentinel.
func (d Descriptor) Valid() bool { return d.Guard == GuardSentinel }

// Unknown reports whether d is a synthetic placeholder for a device that
// answered a probe but exposed no identification storage.
func (d Descriptor) Unknown() bool { return d.Guard == 0 }

// UnknownDescriptor synthesizes the placeholder for a probed device at addr.
// Address 0x69 always identifies the broadcast signaling listener.
func UnknownDescriptor(addr byte) Descriptor {
	d := Descriptor{}
	d.VendorName = truncateName(fmt.Sprintf("<Unknown - %d>", d.VendorID))
	d.ProductName = truncateName(fmt.Sprintf("<Unknown 0x%02X - %d>", addr, d.ProductID))
	if addr == SignalAddress {
		d.Features |= FeatureTSCode
	}
	return d
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0x00 {
			return string(b[:i])
		}
	}
	return string(b)
}

func truncateName(s string) string {
	if len(s) > NameMaxLength {
		return s[:NameMaxLength]
	}
	return s
}
