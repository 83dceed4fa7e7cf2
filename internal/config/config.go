// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Bus      BusConfig      `mapstructure:"bus"`
	Drivers  DriversConfig  `mapstructure:"drivers"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Security SecurityConfig `mapstructure:"security"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Bus transports
const (
	TransportNone   = "none"
	TransportSim    = "sim"
	TransportSerial = "serial"
	TransportI2C    = "i2c"
)

// SerialPortAuto selects the first USB-serial device node found
const SerialPortAuto = "auto"

// BusConfig selects the host transport and scan behaviour.
type BusConfig struct {
	Transport        string        `mapstructure:"transport"`
	Serial           SerialConfig  `mapstructure:"serial"`
	I2CDevice        string        `mapstructure:"i2c_device"`
	Sim              SimConfig     `mapstructure:"sim"`
	Chips            ChipConfig    `mapstructure:"chips"`
	ScanOnStart      bool          `mapstructure:"scan_on_start"`
	ScanMode         string        `mapstructure:"scan_mode"`
	AutoRegister     bool          `mapstructure:"auto_register"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SerialConfig represents the USB-serial bridge port
type SerialConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SimConfig lists devices attached to the simulated bus.
type SimConfig struct {
	Devices []SimDevice `mapstructure:"devices"`
}

// SimDevice is one identification EEPROM on the simulated bus.
type SimDevice struct {
	Address     int      `mapstructure:"address"`
	VendorID    int      `mapstructure:"vendor_id"`
	ProductID   int      `mapstructure:"product_id"`
	Serial      int      `mapstructure:"serial"`
	ProductType int      `mapstructure:"product_type"`
	VendorName  string   `mapstructure:"vendor_name"`
	ProductName string   `mapstructure:"product_name"`
	Features    []string `mapstructure:"features"`
}

// ChipConfig holds the fixed addresses of the peripheral chips.
type ChipConfig struct {
	UART   int `mapstructure:"uart"`
	GPIO   int `mapstructure:"gpio"`
	Signal int `mapstructure:"signal"`
}

// DriversConfig represents driver definition handling
type DriversConfig struct {
	DefinitionsDir string `mapstructure:"definitions_dir"`
	AutoBind       bool   `mapstructure:"auto_bind"`
	PersistReports bool   `mapstructure:"persist_reports"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	ReportRetention time.Duration `mapstructure:"report_retention"`
}

// MQTTConfig represents the event publisher
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads config.yaml from the working directory, ./config or
// /etc/maus-bus, then applies MAUS_BUS_* environment overrides. A missing
// file is not an error.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/maus-bus")
	}

	// Environment variable support
	v.SetEnvPrefix("MAUS_BUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Bus defaults
	v.SetDefault("bus.transport", TransportSim)
	v.SetDefault("bus.serial.baud_rate", 115200)
	v.SetDefault("bus.serial.data_bits", 8)
	v.SetDefault("bus.serial.stop_bits", 1)
	v.SetDefault("bus.serial.parity", "none")
	v.SetDefault("bus.serial.timeout", "500ms")
	v.SetDefault("bus.i2c_device", "/dev/i2c-1")
	v.SetDefault("bus.chips.uart", 0x4D)
	v.SetDefault("bus.chips.gpio", 0x20)
	v.SetDefault("bus.chips.signal", 0x69)
	v.SetDefault("bus.scan_on_start", true)
	v.SetDefault("bus.scan_mode", "quick")
	v.SetDefault("bus.auto_register", true)
	v.SetDefault("bus.presence_interval", "10s")
	v.SetDefault("bus.operation_timeout", "5s")

	// Driver definition defaults
	v.SetDefault("drivers.definitions_dir", "./drivers")
	v.SetDefault("drivers.auto_bind", true)
	v.SetDefault("drivers.persist_reports", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "maus_bus")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.report_retention", "720h")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "maus-bus")
	v.SetDefault("mqtt.topic_prefix", "maus-bus/events")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.keep_alive", "30s")
	v.SetDefault("mqtt.connect_timeout", "10s")

	// App defaults
	v.SetDefault("app.name", "maus-bus")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !oneOf(config.App.Environment, validEnvs) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !oneOf(config.Logging.Level, validLevels) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validTransports := []string{TransportNone, TransportSim, TransportSerial, TransportI2C}
	if !oneOf(config.Bus.Transport, validTransports) {
		return fmt.Errorf("bus.transport must be one of: %v", validTransports)
	}
	if config.Bus.Transport == TransportSerial && config.Bus.Serial.Port == "" {
		return fmt.Errorf("bus.serial.port is required for the serial transport")
	}
	if !oneOf(config.Bus.ScanMode, []string{"quick", "full"}) {
		return fmt.Errorf("bus.scan_mode must be quick or full")
	}
	for name, addr := range map[string]int{
		"uart":   config.Bus.Chips.UART,
		"gpio":   config.Bus.Chips.GPIO,
		"signal": config.Bus.Chips.Signal,
	} {
		if addr < 1 || addr > 0x7F {
			return fmt.Errorf("bus.chips.%s must be a 7-bit address, got %d", name, addr)
		}
	}
	for i, d := range config.Bus.Sim.Devices {
		if d.Address < 1 || d.Address > 0x7F {
			return fmt.Errorf("bus.sim.devices[%d].address must be a 7-bit address", i)
		}
	}

	if config.MQTT.Enabled && config.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if config.MQTT.QoS < 0 || config.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	return nil
}

func oneOf(s string, valid []string) bool {
	for _, v := range valid {
		if s == v {
			return true
		}
	}
	return false
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// DSN returns the lib/pq connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
