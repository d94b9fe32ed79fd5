// logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	case ERROR:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a level.
// Anything else yields INFO and false.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, true
	case "info":
		return INFO, true
	case "warn", "warning":
		return WARN, true
	case "error":
		return ERROR, true
	default:
		return INFO, false
	}
}

// sink holds one *log.Logger per level for a single destination.
type sink struct {
	byLevel [4]*log.Logger
}

func newSink(w io.Writer, colored bool) *sink {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	prefixes := [4]string{"[DEBUG] ", "[INFO]  ", "[WARN]  ", "[ERROR] "}
	colors := [4]string{colorGray, colorReset, colorYellow, colorRed}

	s := &sink{}
	for i, p := range prefixes {
		if colored {
			p = colors[i] + p + colorReset
		}
		s.byLevel[i] = log.New(w, p, flags)
	}
	return s
}

type Logger struct {
	console  *sink
	file     *sink
	handle   *os.File
	minLevel LogLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
	mu            sync.RWMutex
)

// ensureInitialized creates a console logger at DEBUG if Init was never called
func ensureInitialized() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if defaultLogger == nil {
			defaultLogger = &Logger{console: newSink(os.Stdout, true), minLevel: DEBUG}
		}
	})
}

// Init initializes the logger with optional file and console output
// If filename is empty, logs only to console
// If console is false, logs only to file
func Init(filename string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	l := &Logger{minLevel: DEBUG}
	if filename != "" {
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.handle = file
		l.file = newSink(file, false)
	}
	if console {
		l.console = newSink(os.Stdout, true)
	}
	if l.console == nil && l.file == nil {
		return fmt.Errorf("no output destination specified")
	}

	if defaultLogger != nil {
		l.minLevel = defaultLogger.minLevel
		if defaultLogger.handle != nil {
			defaultLogger.handle.Close()
		}
	}
	defaultLogger = l
	return nil
}

// InitFromEnv applies IMGFORGE_LOG_FILE and IMGFORGE_LOG_LEVEL.
func InitFromEnv() error {
	if file := os.Getenv("IMGFORGE_LOG_FILE"); file != "" {
		if err := Init(file, true); err != nil {
			return err
		}
	}
	if raw := os.Getenv("IMGFORGE_LOG_LEVEL"); raw != "" {
		level, ok := ParseLevel(raw)
		if !ok {
			Warnf("unknown log level %q, using %s", raw, level)
		}
		SetLevel(level)
	}
	return nil
}

// SetLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR)
// Messages below this level will not be logged
func SetLevel(level LogLevel) {
	ensureInitialized()
	mu.Lock()
	defer mu.Unlock()
	defaultLogger.minLevel = level
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.handle != nil {
		defaultLogger.handle.Close()
		defaultLogger.handle = nil
		defaultLogger.file = nil
	}
}

// emit writes msg at level. depth is the number of frames between the
// caller of the public function and emit, so Lshortfile points at user code.
func emit(level LogLevel, depth int, msg string) {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()

	l := defaultLogger
	if level < l.minLevel {
		return
	}
	if l.console != nil {
		l.console.byLevel[level].Output(depth+1, msg)
	}
	if l.file != nil {
		l.file.byLevel[level].Output(depth+1, msg)
	}
}

// Debug logs a debug message
func Debug(v ...interface{}) { emit(DEBUG, 2, fmt.Sprint(v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) { emit(DEBUG, 2, fmt.Sprintf(format, v...)) }

// Info logs an info message
func Info(v ...interface{}) { emit(INFO, 2, fmt.Sprint(v...)) }

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) { emit(INFO, 2, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...interface{}) { emit(WARN, 2, fmt.Sprint(v...)) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) { emit(WARN, 2, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...interface{}) { emit(ERROR, 2, fmt.Sprint(v...)) }

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) { emit(ERROR, 2, fmt.Sprintf(format, v...)) }

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	emit(ERROR, 2, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	emit(ERROR, 2, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Scoped prefixes every line with a component name. It also satisfies
// asynq.Logger, so the queue server logs through the same sinks.
type Scoped struct {
	prefix string
}

// With returns a logger for one subsystem ("dispatcher", "cleanup", ...).
func With(component string) *Scoped {
	return &Scoped{prefix: "[" + component + "] "}
}

func (s *Scoped) Debug(v ...interface{}) { emit(DEBUG, 2, s.prefix+fmt.Sprint(v...)) }
func (s *Scoped) Info(v ...interface{})  { emit(INFO, 2, s.prefix+fmt.Sprint(v...)) }
func (s *Scoped) Warn(v ...interface{})  { emit(WARN, 2, s.prefix+fmt.Sprint(v...)) }
func (s *Scoped) Error(v ...interface{}) { emit(ERROR, 2, s.prefix+fmt.Sprint(v...)) }

func (s *Scoped) Fatal(v ...interface{}) {
	emit(ERROR, 2, s.prefix+fmt.Sprint(v...))
	os.Exit(1)
}

func (s *Scoped) Debugf(format string, v ...interface{}) {
	emit(DEBUG, 2, s.prefix+fmt.Sprintf(format, v...))
}

func (s *Scoped) Infof(format string, v ...interface{}) {
	emit(INFO, 2, s.prefix+fmt.Sprintf(format, v...))
}

func (s *Scoped) Warnf(format string, v ...interface{}) {
	emit(WARN, 2, s.prefix+fmt.Sprintf(format, v...))
}

func (s *Scoped) Errorf(format string, v ...interface{}) {
	emit(ERROR, 2, s.prefix+fmt.Sprintf(format, v...))
}
