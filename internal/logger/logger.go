package logger

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/rs/zerolog"
)

var (
	current atomic.Pointer[zerolog.Logger]
	mu      sync.Mutex
	output  io.Writer = os.Stdout
	tee     io.Writer
	service bool
)

func init() {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	current.Store(&l)
}

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel maps a configured level name onto a LogLevel.
func ParseLevel(s string) (LogLevel, bool) {
	switch s {
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level LogLevel, isService bool) {
	mu.Lock()
	defer mu.Unlock()

	output = os.Stdout
	service = isService
	rebuild()
	SetLogLevel(level)
}

// Attach tees every log line, JSON encoded, into w in addition to the
// console output. Passing nil detaches.
func Attach(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	tee = w
	rebuild()
}

// SetOutput replaces the primary writer. Intended for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	rebuild()
}

func rebuild() {
	console := zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
		NoColor:    service,
	}
	if service {
		console.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	var w io.Writer = console
	if tee != nil {
		w = zerolog.MultiLevelWriter(console, tee)
	}

	l := zerolog.New(w).With().Timestamp().Logger()
	current.Store(&l)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

func log() *zerolog.Logger { return current.Load() }

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log().Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log().Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log().Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log().Error()}
}

// ErrorWithCode logs an error message with its error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log().Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Message()).
		AnErr("error", err.Unwrap())}
}

// WarnWithCode logs a warning carrying an error code
func WarnWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log().Warn().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error())}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log().Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log().Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Message()).
		AnErr("error", err.Unwrap())}
}

type packageLogger struct{}

func (packageLogger) Debug() *LogEvent { return Debug() }
func (packageLogger) Info() *LogEvent  { return Info() }
func (packageLogger) Warn() *LogEvent  { return Warn() }
func (packageLogger) Error() *LogEvent { return Error() }

// Default returns a Logger backed by the package-level logger.
func Default() Logger { return packageLogger{} }
