package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel LogLevel
	logger       zerolog.Logger
	initOnce     sync.Once
)

// initLogger builds the process logger from DEBUG, LOG_LEVEL and LOG_FORMAT.
func initLogger() {
	initOnce.Do(func() {
		currentLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				currentLevel = LevelDebug
			}
		}

		logger = newLogger(formatWriter(os.Getenv("LOG_FORMAT")), currentLevel)
	})
}

func formatWriter(format string) io.Writer {
	if strings.EqualFold(format, "json") {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// SetFormat switches stderr output between "json" and the console format.
func SetFormat(format string) {
	SetOutput(formatWriter(format))
}

func newLogger(out io.Writer, level LogLevel) zerolog.Logger {
	return zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel. Unknown values are info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput replaces the log destination, keeping the current level.
// Tests use it to capture output.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, currentLevel)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level LogLevel) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	logger = logger.Level(level.zerolog())
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// Logger returns the underlying zerolog logger.
func Logger() zerolog.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a logger carrying the given key/value pairs. Keys must be
// strings; a trailing key without a value is dropped.
func With(kv ...any) Fields {
	l := Logger()
	ctx := l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return Fields{l: ctx.Logger()}
}

// Fields is a logger with attached context, used for per-job logging.
type Fields struct {
	l zerolog.Logger
}

func (f Fields) Debug(format string, args ...any) { f.l.Debug().Msgf(format, args...) }
func (f Fields) Info(format string, args ...any)  { f.l.Info().Msgf(format, args...) }
func (f Fields) Warn(format string, args ...any)  { f.l.Warn().Msgf(format, args...) }
func (f Fields) Error(format string, args ...any) { f.l.Error().Msgf(format, args...) }

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

// Info logs an info message
func Info(format string, args ...any) {
	l := Logger()
	l.Info().Msgf(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...any) {
	l := Logger()
	l.Warn().Msgf(format, args...)
}

// Error logs an error message
func Error(format string, args ...any) {
	l := Logger()
	l.Error().Msgf(format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...any) {
	l := Logger()
	l.Fatal().Msgf(format, args...)
}

// Printf logs a message that should always print, regardless of level.
func Printf(format string, args ...any) {
	l := Logger()
	l.Log().Msgf(format, args...)
}

// Println is the Println counterpart of Printf.
func Println(args ...any) {
	l := Logger()
	l.Log().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
