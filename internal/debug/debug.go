package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/rbxsync/rbxsync/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// debugOutput is the writer for debug output (defaults to nil, meaning stderr)
var debugOutput io.Writer

// debugFile holds the open file handle if debug output goes to a file
var debugFile *os.File

// debugMutex protects access to debug output
var debugMutex sync.Mutex

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to restore the default (stderr).
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a file.
// Returns the path to the log file, or an error if initialization fails.
// Call CloseDebugLog when done to ensure the file is properly closed.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "rbxsync-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled returns true if debug mode is enabled
func IsDebugEnabled() bool {
	// Check build flag first
	if EnableDebug == "true" {
		return true
	}

	// Allow runtime override via environment variable
	if os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true" {
		return true
	}

	return false
}

func logf(prefix, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}

	debugMutex.Lock()
	defer debugMutex.Unlock()

	out := debugOutput
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "[%s] %s", prefix, fmt.Sprintf(format, args...))
}

// LogSnapshot logs snapshot builder activity
func LogSnapshot(format string, args ...interface{}) {
	logf("snapshot", format, args...)
}

// LogPatch logs patch compute/apply activity
func LogPatch(format string, args ...interface{}) {
	logf("patch", format, args...)
}

// LogMatch logs matching engine activity
func LogMatch(format string, args ...interface{}) {
	logf("match", format, args...)
}

// LogSyncback logs syncback writer activity
func LogSyncback(format string, args ...interface{}) {
	logf("syncback", format, args...)
}

// LogWatch logs filesystem watcher activity
func LogWatch(format string, args ...interface{}) {
	logf("watch", format, args...)
}

// LogSession logs serve session activity
func LogSession(format string, args ...interface{}) {
	logf("session", format, args...)
}
