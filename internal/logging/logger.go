package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventLog represents a single sync/migration event log entry, written
// alongside the operational slog stream for operators who want a
// structured, greppable record of every dual-write and repair decision.
type EventLog struct {
	Timestamp  time.Time `json:"timestamp"`
	EntityID   string    `json:"entity_id"`
	Kind       string    `json:"kind"` // synced, failed, conflict, inconsistent, repaired
	TraceID    string    `json:"trace_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Retries    int       `json:"retries,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Logger handles event logging, independent of the operational slog stream.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an event log entry.
func (l *Logger) Log(entry *EventLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		fmt.Printf("[sync] %s %s %s %dms%s\n",
			status, entry.EntityID, entry.Kind, entry.DurationMs, retry)
		if entry.Error != "" {
			fmt.Printf("[sync]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
