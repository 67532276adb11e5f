// Package logger holds the process-wide structured logger.
//
// Every package logs through a component-scoped child logger:
//
//	log := logger.For("PIPELINE")
//	log.Infow("frames collected", logger.FieldFrames, n)
package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names shared by all components.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldPath       = "path"
	FieldFrames     = "frames"
	FieldTracks     = "tracks"
	FieldBatchSize  = "batch_size"
	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldProvider   = "provider"
	FieldAddress    = "address"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger
	// JSONOutput reports whether Initialize selected the JSON encoder.
	JSONOutput bool
)

func init() {
	// no-op until Initialize so packages can log from tests and init code
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output uses zap's production
// config; otherwise a console encoder with millisecond timestamps is used.
func Initialize(jsonOutput, verbose bool) error {
	JSONOutput = jsonOutput

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = config.Build()
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}

	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// For returns a child logger tagged with the given component name.
func For(component string) *zap.SugaredLogger {
	return Logger.With(FieldComponent, component)
}

// Since returns the elapsed time in milliseconds, for FieldDurationMS.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Cleanup flushes any buffered log entries.
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
