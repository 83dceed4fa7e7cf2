// cmd/descdump/main.go
package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"maus-bus/internal/bus"
)

// descdump prints the wire layout of a device descriptor with a hexdump.
// The descriptor comes from a binary file, a hex string, or is built from
// flags.
func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "descdump:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("descdump", flag.ContinueOnError)
	fs.SetOutput(stdout)
	in := fs.String("in", "", "binary descriptor file, - for stdin")
	hexStr := fs.String("hex", "", "descriptor as hex, spaces ignored")
	vid := fs.Uint("vid", 0x1234, "vendor ID of a built descriptor")
	pid := fs.Uint("pid", 0x0001, "product ID of a built descriptor")
	serial := fs.Uint("serial", 1, "serial number of a built descriptor")
	ptype := fs.Uint("type", 0, "product type of a built descriptor")
	vendor := fs.String("vendor", "Maus-Tec Electronics", "vendor name of a built descriptor")
	product := fs.String("product", "MB-232T", "product name of a built descriptor")
	features := fs.String("features", "serial", "comma separated features of a built descriptor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := source(*in, *hexStr, stdin)
	if err != nil {
		return err
	}
	if raw == nil {
		f, err := bus.FeaturesFromNames(splitList(*features))
		if err != nil {
			return err
		}
		raw, _ = bus.Descriptor{
			Guard:       bus.GuardSentinel,
			VendorID:    uint16(*vid),
			ProductID:   uint16(*pid),
			Serial:      uint16(*serial),
			ProductType: bus.ProductType(*ptype),
			Features:    f,
			VendorName:  *vendor,
			ProductName: *product,
		}.MarshalBinary()
	}

	desc, err := bus.ParseDescriptor(raw)
	if err != nil {
		return err
	}
	return dump(stdout, raw[:bus.DescriptorSize], desc)
}

func source(in, hexStr string, stdin io.Reader) ([]byte, error) {
	switch {
	case in == "-":
		return io.ReadAll(stdin)
	case in != "":
		return os.ReadFile(in)
	case hexStr != "":
		return hex.DecodeString(strings.Join(strings.Fields(hexStr), ""))
	}
	return nil, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dump(w io.Writer, raw []byte, desc bus.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSIZE\tFIELD\tVALUE")
	for _, f := range bus.DescriptorLayout {
		fmt.Fprintf(tw, "0x%02X\t%d\t%s\t%s\n", f.Offset, f.Size, f.Name, fieldValue(f, raw[f.Offset:f.Offset+f.Size], desc))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nvalid=%t features=%v category=%d subtype=%d\n\n",
		desc.Valid(), desc.Features.Names(), desc.ProductType.Category(), desc.ProductType.Subtype())
	_, err := io.WriteString(w, hex.Dump(raw))
	return err
}

func fieldValue(f bus.Field, b []byte, desc bus.Descriptor) string {
	switch f.Name {
	case "vendor_name":
		return fmt.Sprintf("%q", desc.VendorName)
	case "product_name":
		return fmt.Sprintf("%q", desc.ProductName)
	}
	switch f.Size {
	case 1:
		return fmt.Sprintf("0x%02X", b[0])
	case 2:
		return fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(b))
	default:
		return fmt.Sprintf("0x%08X", binary.LittleEndian.Uint32(b))
	}
}
