package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the logging threshold
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat selects the output encoding
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config controls logger construction
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"` // stdout, stderr, file
	Filename   string    `yaml:"filename" json:"filename"`
	MaxSize    int       `yaml:"max_size" json:"max_size"` // MB per file
	MaxAge     int       `yaml:"max_age" json:"max_age"`   // days
	MaxBackups int       `yaml:"max_backups" json:"max_backups"`
	Compress   bool      `yaml:"compress" json:"compress"`
	Caller     bool      `yaml:"caller" json:"caller"`
}

// DefaultConfig is used when no logging section is configured
var DefaultConfig = Config{
	Level:      LevelInfo,
	Format:     FormatJSON,
	Output:     "stdout",
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 10,
	Compress:   true,
}

// Logger is the structured logging interface used across the engine
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// StructuredLogger wraps logrus behind the Logger interface
type StructuredLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

// New creates a logger from config
func New(config Config) Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	callerPretty := func(f *runtime.Frame) (string, string) {
		return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	if config.Format == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPretty,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPretty,
		})
	}
	logger.SetReportCaller(config.Caller)
	logger.SetOutput(resolveOutput(config))

	return &StructuredLogger{logger: logger, entry: logrus.NewEntry(logger)}
}

func resolveOutput(config Config) io.Writer {
	switch config.Output {
	case "stderr":
		return os.Stderr
	case "file":
		if config.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
	default:
		return os.Stdout
	}
}

// fieldsFromPairs turns variadic key-value pairs into logrus fields
func fieldsFromPairs(pairs []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprintf("field%d", i/2)
		}
		fields[key] = pairs[i+1]
	}
	return fields
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.entry.WithFields(fieldsFromPairs(fields)).Debug(msg)
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.entry.WithFields(fieldsFromPairs(fields)).Info(msg)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.entry.WithFields(fieldsFromPairs(fields)).Warn(msg)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.entry.WithFields(fieldsFromPairs(fields)).Error(msg)
}

func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.entry.WithFields(fieldsFromPairs(fields)).Fatal(msg)
}

func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithField(key, value)}
}

func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithFields(logrus.Fields(fields))}
}

var (
	defaultLogger Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide fallback logger
func Default() Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(DefaultConfig)
	})
	return defaultLogger
}
