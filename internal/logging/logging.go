package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

// LogLevel represents the severity of a log entry.
type LogLevel int

const (
	DEBUG LogLevel = -1
	INFO  LogLevel = 0
	WARN  LogLevel = 1
	ERROR LogLevel = 2
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	mu       sync.Mutex
	logFile  *os.File
	logPath  string
	mirror   io.Writer
	mirrorAt LogLevel
)

// InitLogger opens (or creates) the log file under the XDG state home
// (~/.local/state/<appName>/<appName>.log) and returns the resolved absolute
// path so front ends can point users at it.
func InitLogger(appName string) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	rel := filepath.Join(appName, appName+".log")
	p, err := xdg.StateFile(rel)
	if err != nil {
		return "", fmt.Errorf("logging: resolve state path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("logging: create log dir: %w", err)
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("logging: open log file: %w", err)
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logPath = p
	return p, nil
}

// Mirror copies every entry at or above level to w (typically os.Stderr).
// Passing a nil writer disables mirroring.
func Mirror(w io.Writer, level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	mirror = w
	mirrorAt = level
}

// Log writes a structured line to the log file. Safe to call from any goroutine.
// If neither the log file nor a mirror is configured, the entry is silently
// dropped.
func Log(level LogLevel, scope, message string) {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil && mirror == nil {
		return
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s [%s] scope=%q %s\n", ts, level, scope, message)
	if logFile != nil && level >= INFO {
		_, _ = logFile.WriteString(line)
	}
	if mirror != nil && level >= mirrorAt {
		_, _ = io.WriteString(mirror, line)
	}
}

// Logf is Log with fmt.Sprintf formatting.
func Logf(level LogLevel, scope, format string, args ...any) {
	Log(level, scope, fmt.Sprintf(format, args...))
}

// Path returns the resolved log file path (empty string if not initialised).
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}
