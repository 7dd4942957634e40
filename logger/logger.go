// Package logger provides the structured logger shared by every wtask package.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.RWMutex
	globalLogger = zap.NewNop()
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Options configures a logger.
type Options struct {
	// Level is one of trace, debug, info, warn, error, fatal
	Level string

	// Format is "json" or "text"
	Format string

	// Output is stdout, stderr or a file path
	Output string

	// Color enables colored level names for the text encoder
	Color bool

	// Development turns on zap's development mode (DPanic panics, caller info)
	Development bool

	// Fields are attached to every entry
	Fields map[string]interface{}
}

// DefaultOptions returns options for a console logger at info level.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// New builds a zap logger from opts. The returned AtomicLevel controls the
// logger's level after construction.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	var encoder zapcore.Encoder
	encoderConfig := encoderConfig(opts)
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	sink, err := writer(opts.Output)
	if err != nil {
		return nil, level, err
	}

	zopts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel)}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}
	if len(opts.Fields) > 0 {
		fields := make([]zap.Field, 0, len(opts.Fields))
		for k, v := range opts.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		zopts = append(zopts, zap.Fields(fields...))
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), zopts...), level, nil
}

// Init builds a logger from opts and installs it as the global logger.
func Init(opts Options) error {
	l, level, err := New(opts)
	if err != nil {
		return err
	}

	globalMu.Lock()
	globalLogger = l
	globalLevel = level
	globalMu.Unlock()

	zap.ReplaceGlobals(l)
	return nil
}

// Set installs l as the global logger. The level set by SetLevel no longer
// applies to it unless l was built with the global AtomicLevel.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// L returns the global logger. It is a no-op logger until Init or Set is called.
func L() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// SetLevel changes the level of the logger installed by Init.
func SetLevel(level string) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	globalLevel.SetLevel(ParseLevel(level))
}

// Level returns the current global level.
func Level() zapcore.Level {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLevel.Level()
}

// Sync flushes the global logger.
func Sync() error {
	return L().Sync()
}

// ParseLevel maps a configuration level name onto a zap level. Unknown names
// map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig(opts Options) zapcore.EncoderConfig {
	if opts.Format == "json" {
		config := zap.NewProductionEncoderConfig()
		config.TimeKey = "timestamp"
		config.MessageKey = "message"
		config.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncodeLevel = zapcore.LowercaseLevelEncoder
		config.EncodeDuration = zapcore.StringDurationEncoder
		config.EncodeCaller = zapcore.ShortCallerEncoder
		return config
	}

	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	if opts.Color {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return config
}

func writer(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(file), nil
	}
}
