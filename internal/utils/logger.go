// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"maus-bus/internal/config"
)

// defaultLogFile is used when file output is selected without a path.
const defaultLogFile = "./logs/maus-bus.log"

// NewLogger builds the process logger from configuration. Entries carry the
// caller of the zap method itself; the wrappers below embed or hold a
// *zap.Logger and call it directly, so no frames are skipped.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	sink, err := logSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	encCfg := encoderConfig(cfg.Format)
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func encoderConfig(format string) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	enc.LevelKey = "level"
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.CallerKey = "caller"
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.MessageKey = "message"
	enc.StacktraceKey = "stacktrace"

	if format == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	}
	return enc
}

// logSink resolves the output: stdout, stderr, or a rotated file.
func logSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	path := cfg.Output
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", s)
}

// BusLogger carries the identity of one bus device on every entry.
type BusLogger struct {
	*zap.Logger
	address string
}

// NewBusLogger creates a device-scoped logger
func NewBusLogger(baseLogger *zap.Logger, address, vendor, product string) *BusLogger {
	logger := baseLogger.With(
		zap.String("address", address),
		zap.String("vendor", vendor),
		zap.String("product", product),
		zap.String("component", "bus-device"),
	)

	return &BusLogger{
		Logger:  logger,
		address: address,
	}
}

// LogRegistration logs the outcome of binding drivers to the device
func (bl *BusLogger) LogRegistration(capabilities []string, err error) {
	if err != nil {
		bl.Error("Device registration failed", zap.Error(err))
		return
	}
	bl.Info("Device registered", zap.Strings("capabilities", capabilities))
}

// LogStatus logs a presence transition
func (bl *BusLogger) LogStatus(oldStatus, newStatus string) {
	level := zapcore.InfoLevel
	if newStatus == "disconnected" || newStatus == "timeout" {
		level = zapcore.WarnLevel
	}
	if ce := bl.Check(level, "Device status changed"); ce != nil {
		ce.Write(
			zap.String("old_status", oldStatus),
			zap.String("new_status", newStatus),
		)
	}
}

// OperationLogger provides structured logging for long running operations
// such as scans
type OperationLogger struct {
	logger      *zap.Logger
	operationID string
	startTime   time.Time
}

// NewOperationLogger creates an operation-specific logger
func NewOperationLogger(baseLogger *zap.Logger, operationType, operationID string) *OperationLogger {
	logger := baseLogger.With(
		zap.String("operation_type", operationType),
		zap.String("operation_id", operationID),
		zap.String("component", "operation"),
	)

	return &OperationLogger{
		logger:      logger,
		operationID: operationID,
		startTime:   time.Now(),
	}
}

// Start logs operation start
func (ol *OperationLogger) Start(fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Time("start_time", ol.startTime),
	}, fields...)

	ol.logger.Info("Operation started", allFields...)
}

// Success logs successful operation completion
func (ol *OperationLogger) Success(fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Duration("duration", time.Since(ol.startTime)),
		zap.Bool("success", true),
	}, fields...)

	ol.logger.Info("Operation completed successfully", allFields...)
}

// Error logs operation failure
func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Duration("duration", time.Since(ol.startTime)),
		zap.Bool("success", false),
		zap.Error(err),
	}, fields...)

	ol.logger.Error("Operation failed", allFields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	logger := baseLogger.With(
		zap.String("service", serviceName),
		zap.String("component", "service"),
	)

	return &ServiceLogger{
		Logger:      logger,
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs HTTP API requests
func (sl *ServiceLogger) LogAPIRequest(method, path, requestID, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// AuditLogger records changes to driver definitions and their state
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates an audit-specific logger
func NewAuditLogger(baseLogger *zap.Logger) *AuditLogger {
	logger := baseLogger.With(
		zap.String("component", "audit"),
	)

	return &AuditLogger{
		logger: logger,
	}
}

// LogDefinitionLoaded logs a driver definition entering the store
func (al *AuditLogger) LogDefinitionLoaded(configID, displayName, source string, warnings int) {
	al.logger.Info("Driver definition loaded",
		zap.String("config_id", configID),
		zap.String("display_name", displayName),
		zap.String("source", source),
		zap.Int("warnings", warnings),
		zap.String("action", "load_definition"),
	)
}

// LogDefinitionUnloaded logs a driver definition leaving the store
func (al *AuditLogger) LogDefinitionUnloaded(configID, displayName string) {
	al.logger.Info("Driver definition unloaded",
		zap.String("config_id", configID),
		zap.String("display_name", displayName),
		zap.String("action", "unload_definition"),
	)
}

// LogVariableChanged logs a variable write
func (al *AuditLogger) LogVariableChanged(configID, name string, oldValue, newValue int) {
	al.logger.Info("Driver variable changed",
		zap.String("config_id", configID),
		zap.String("variable", name),
		zap.Int("old_value", oldValue),
		zap.Int("new_value", newValue),
		zap.String("action", "set_variable"),
	)
}

func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
