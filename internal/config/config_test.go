package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.Transport != TransportSim || cfg.Bus.ScanMode != "quick" {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	if cfg.Bus.Chips.UART != 0x4D || cfg.Bus.Chips.GPIO != 0x20 || cfg.Bus.Chips.Signal != 0x69 {
		t.Fatalf("chips = %+v", cfg.Bus.Chips)
	}
	if cfg.Bus.PresenceInterval != 10*time.Second {
		t.Fatalf("presence = %s", cfg.Bus.PresenceInterval)
	}
	if cfg.Database.Enabled || cfg.MQTT.Enabled {
		t.Fatal("optional backends should default off")
	}
	if cfg.GetServerAddr() != "0.0.0.0:8086" {
		t.Fatalf("addr = %s", cfg.GetServerAddr())
	}
}

func TestFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
bus:
  transport: serial
  serial:
    port: /dev/ttyUSB0
  sim:
    devices:
      - address: 0x50
        vendor_id: 1
        product_name: MB-232T
        features: [serial]
mqtt:
  enabled: true
  qos: 1
`)
	t.Setenv("MAUS_BUS_LOGGING_LEVEL", "debug")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("env override ignored: %s", cfg.Logging.Level)
	}
	if cfg.Bus.Serial.Port != "/dev/ttyUSB0" || cfg.Bus.Serial.BaudRate != 115200 {
		t.Fatalf("serial = %+v", cfg.Bus.Serial)
	}
	if len(cfg.Bus.Sim.Devices) != 1 || cfg.Bus.Sim.Devices[0].Address != 0x50 ||
		cfg.Bus.Sim.Devices[0].Features[0] != "serial" {
		t.Fatalf("sim = %+v", cfg.Bus.Sim)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.QoS != 1 {
		t.Fatalf("mqtt = %+v", cfg.MQTT)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"transport", "bus:\n  transport: usb\n", "bus.transport"},
		{"serial port", "bus:\n  transport: serial\n", "bus.serial.port"},
		{"scan mode", "bus:\n  scan_mode: deep\n", "bus.scan_mode"},
		{"chip address", "bus:\n  chips:\n    uart: 200\n", "bus.chips.uart"},
		{"sim address", "bus:\n  sim:\n    devices:\n      - address: 0\n", "bus.sim.devices[0]"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"qos", "mqtt:\n  qos: 3\n", "mqtt.qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "maus", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=maus sslmode=disable"
	if d.DSN() != want {
		t.Fatalf("dsn = %s", d.DSN())
	}
}
