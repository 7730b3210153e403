// Package logging provides the process-wide component logger.
//
// All components share one append-only debug log file (~/podium-debug.log);
// each component logger stamps its lines with the component name so a single
// tail covers the whole process.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines a minimal printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type fileLogger struct {
	mu        *sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

var (
	sharedOnce sync.Once
	sharedMu   sync.Mutex
	sharedOut  *log.Logger
)

const logFileName = "podium-debug.log"

func sharedOutput() *log.Logger {
	sharedOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		file, err := os.OpenFile(filepath.Join(home, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("logging: failed to open %s: %v", logFileName, err)
			return
		}
		sharedOut = log.New(file, "", 0) // lines are formatted by the logger itself
	})
	return sharedOut
}

// NewComponentLogger returns a logger scoped to a component, writing to the
// shared debug log file. When the file cannot be opened the logger degrades to
// stderr via the standard log package.
func NewComponentLogger(component string) Logger {
	return &fileLogger{
		mu:        &sharedMu,
		out:       sharedOutput(),
		level:     LevelDebug,
		component: component,
	}
}

func (l *fileLogger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[%s] [%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.component, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		l.out.Println(line)
		return
	}
	log.Println(line)
}

func (l *fileLogger) Debug(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.logf(LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}
