package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance
var Logger *logrus.Logger

var initMu sync.Mutex

// Init initializes the logger with the specified configuration
func Init(level, format, output string) {
	initMu.Lock()
	defer initMu.Unlock()

	l := logrus.New()

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	// Set log format
	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	// Set output
	switch strings.ToLower(output) {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "discard":
		l.SetOutput(io.Discard)
	default:
		l.SetOutput(os.Stdout)
	}

	Logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		Init("info", "text", "stdout")
	}
	return Logger
}

// Component returns an entry tagged with the component name
func Component(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}

// IdentityFields returns the standard log fields of an identity
func IdentityFields(id domain.Identity) logrus.Fields {
	fields := logrus.Fields{}
	if id.DeviceID != "" {
		fields["device_id"] = id.DeviceID
	}
	if id.IdentityID != "" {
		fields["identity_id"] = id.IdentityID
	}
	if id.PlaceContext != "" {
		fields["place_id"] = id.PlaceContext
	}
	if id.NetworkAddress != "" {
		fields["network_address"] = id.NetworkAddress
	}
	return fields
}

// WithField creates a new logger entry with a field
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields creates a new logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithError creates a new logger entry with an error
func WithError(err error) *logrus.Entry {
	return GetLogger().WithError(err)
}

// Info logs an info message
func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}
