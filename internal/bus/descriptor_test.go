package bus

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func scenarioDescriptorBytes() []byte {
	b := make([]byte, DescriptorSize)
	copy(b, []byte{
		0xFE, 0xCA, // guard, little-endian 0xCAFE
		0x01, 0x00, // vendor_id
		0x01, 0x00, // product_id
		0x00, 0x00, // serial
		0x01, 0x01, // product_type
		0x04,                   // feature_config_count
		0xA0,                   // user_data_address
		0x02, 0x00, 0x00, 0x00, // feature flags: serial
	})
	copy(b[0x10:], "Maus-Tec Electronics")
	copy(b[0x28:], "MB-232T")
	return b
}

func TestParseDescriptorScenario(t *testing.T) {
	d, err := ParseDescriptor(scenarioDescriptorBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Valid() || d.Unknown() {
		t.Fatalf("guard 0x%04X should be valid", d.Guard)
	}
	if d.VendorID != 1 || d.ProductID != 1 {
		t.Errorf("vid/pid = %d/%d", d.VendorID, d.ProductID)
	}
	if d.FeatureConfigCount != 4 || d.UserDataAddress != 0xA0 {
		t.Errorf("fcc=%d uda=0x%02X", d.FeatureConfigCount, d.UserDataAddress)
	}
	if !d.Features.Serial() || d.Features.TSCode() || d.Features.GPIO() {
		t.Errorf("features = %v", d.Features.Names())
	}
	if d.ProductType.Category() != 1 || d.ProductType.Subtype() != 1 {
		t.Errorf("product type = 0x%04X", uint16(d.ProductType))
	}
	if d.VendorName != "Maus-Tec Electronics" || d.ProductName != "MB-232T" {
		t.Errorf("names = %q / %q", d.VendorName, d.ProductName)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	src := scenarioDescriptorBytes()
	d, err := ParseDescriptor(src)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, src)
	}
	var again Descriptor
	if err := again.UnmarshalBinary(out); err != nil {
		t.Fatal(err)
	}
	if again != d {
		t.Fatalf("fields differ: %+v vs %+v", again, d)
	}
}

func TestDescriptorForcesNameTermination(t *testing.T) {
	b := scenarioDescriptorBytes()
	// Fill both name fields completely with no terminator.
	copy(b[0x10:0x28], strings.Repeat("V", 24))
	copy(b[0x28:0x40], strings.Repeat("P", 24))

	d, err := ParseDescriptor(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.VendorName) != NameMaxLength || len(d.ProductName) != NameMaxLength {
		t.Fatalf("name lengths %d/%d, want %d", len(d.VendorName), len(d.ProductName), NameMaxLength)
	}

	out, _ := d.MarshalBinary()
	if out[0x27] != 0 || out[0x3F] != 0 {
		t.Fatal("name fields not NUL-terminated on the wire")
	}
	back, _ := ParseDescriptor(out)
	if back != d {
		t.Fatalf("round trip after truncation differs: %+v vs %+v", back, d)
	}
}

func TestDescriptorMarshalTruncatesLongNames(t *testing.T) {
	d := Descriptor{Guard: GuardSentinel, VendorName: strings.Repeat("x", 40)}
	out, _ := d.MarshalBinary()
	back, _ := ParseDescriptor(out)
	if back.VendorName != strings.Repeat("x", NameMaxLength) {
		t.Fatalf("vendor name = %q", back.VendorName)
	}
}

func TestParseDescriptorShort(t *testing.T) {
	if _, err := ParseDescriptor(make([]byte, 10)); !errors.Is(err, ErrShortDescriptor) {
		t.Fatalf("want ErrShortDescriptor, got %v", err)
	}
}

func TestUnknownDescriptor(t *testing.T) {
	d := UnknownDescriptor(0x20)
	if !d.Unknown() || d.Valid() {
		t.Fatal("placeholder must carry a zero guard")
	}
	if d.VendorName != "<Unknown - 0>" || d.ProductName != "<Unknown 0x20 - 0>" {
		t.Fatalf("names = %q / %q", d.VendorName, d.ProductName)
	}
	if d.Features != 0 {
		t.Fatalf("features = %b", d.Features)
	}

	sig := UnknownDescriptor(SignalAddress)
	if !sig.Features.TSCode() {
		t.Fatal("0x69 must advertise signaling")
	}
}

func TestFeaturesPreserveReservedBits(t *testing.T) {
	d := Descriptor{Features: FeatureGPIO | 1<<17}
	out, _ := d.MarshalBinary()
	back, _ := ParseDescriptor(out)
	if back.Features != d.Features {
		t.Fatalf("features = %b, want %b", back.Features, d.Features)
	}
}

func TestFeaturesFromNames(t *testing.T) {
	f, err := FeaturesFromNames([]string{"Serial", " gpio"})
	if err != nil {
		t.Fatalf("FeaturesFromNames: %v", err)
	}
	if f != FeatureSerial|FeatureGPIO {
		t.Fatalf("features = %#x", f)
	}
	if names := f.Names(); len(names) != 2 || names[0] != "serial" || names[1] != "gpio" {
		t.Fatalf("names = %v", names)
	}
	if _, err := FeaturesFromNames([]string{"usb"}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want not supported", err)
	}
}

func TestDescriptorLayoutIsContiguous(t *testing.T) {
	next := 0
	for _, f := range DescriptorLayout {
		if f.Offset != next {
			t.Fatalf("%s at 0x%02X, want 0x%02X", f.Name, f.Offset, next)
		}
		next = f.Offset + f.Size
	}
	if next != DescriptorSize {
		t.Fatalf("layout ends at 0x%02X", next)
	}
}
