// Package logger provides the leveled logging utility used across cirrusbatch.
// It wraps the standard `log` package, prefixes every line with the process id
// and filters messages by the configured level.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

// String returns the name accepted by SetLogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "INFO"
	}
}

var (
	// logLevel is the currently set global log level.
	logLevel = LevelInfo

	mu          sync.RWMutex
	logFile     *os.File
	logFilePath string
	console     io.Writer = os.Stderr
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix(fmt.Sprintf("%d ", os.Getpid()))
}

// SetLogLevel sets the global log level.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// If an invalid value is specified, the default "INFO" level is used.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "INFO", "":
		logLevel = LevelInfo
	case "WARN", "WARNING":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	case "DEBUG":
		logLevel = LevelDebug
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		logLevel = LevelInfo
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	return logLevel
}

// SetOutputFile tees all log output to the file at path, in addition to the console.
// An empty path restores console-only output.
func SetOutputFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		logFilePath = ""
	}
	if path == "" {
		log.SetOutput(console)
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(console)
		return fmt.Errorf("failed to open log file '%s': %w", path, err)
	}
	logFile = f
	logFilePath = path
	log.SetOutput(io.MultiWriter(console, f))
	return nil
}

// SetConsole replaces the console writer. Used by tests and by the progress
// display, which owns stderr while a batch is running.
func SetConsole(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	if logFile != nil {
		log.SetOutput(io.MultiWriter(console, logFile))
		return
	}
	log.SetOutput(console)
}

// LogFilePath returns the path of the log file, or "" when logging only to the console.
func LogFilePath() string {
	mu.RLock()
	defer mu.RUnlock()
	return logFilePath
}

// Close releases the log file, if any.
func Close() error {
	return SetOutputFile("")
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	if logLevel <= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	if logLevel <= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	if logLevel <= LevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	if logLevel <= LevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}

// Scoped is a logger bound to a fixed prefix, typically the identity of the
// work item a goroutine is processing.
type Scoped struct {
	prefix string
}

// WithPrefix returns a Scoped logger that prefixes each message with "[prefix] ".
func WithPrefix(prefix string) Scoped {
	return Scoped{prefix: "[" + prefix + "] "}
}

func (s Scoped) Debugf(format string, v ...interface{}) { Debugf(s.prefix+format, v...) }
func (s Scoped) Infof(format string, v ...interface{})  { Infof(s.prefix+format, v...) }
func (s Scoped) Warnf(format string, v ...interface{})  { Warnf(s.prefix+format, v...) }
func (s Scoped) Errorf(format string, v ...interface{}) { Errorf(s.prefix+format, v...) }
