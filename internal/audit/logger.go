package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/camera-control/ccs/internal/dispatch"
)

// Entry kinds.
const (
	KindCommand = "command"
	KindStatus  = "status"
)

// Entry represents a single command log entry.
type Entry struct {
	Timestamp time.Time   `json:"ts"`
	Kind      string      `json:"kind"`
	Source    string      `json:"source,omitempty"`
	Session   string      `json:"session,omitempty"`
	User      string      `json:"user,omitempty"`
	Command   string      `json:"command,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	Status    string      `json:"status,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	LatencyMs float64     `json:"latencyMs,omitempty"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
}

// Options configure rotation of the log file.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger appends entries to a rotated JSONL file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	logger   *zap.Logger
}

// NewLogger creates a command logger writing to filePath.
func NewLogger(filePath string, opts Options, logger *zap.Logger) (*Logger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
		logger: logger.Named("audit"),
	}, nil
}

// RecordCommand logs one dispatched command.
func (l *Logger) RecordCommand(rec dispatch.Record) {
	l.writeEntry(Entry{
		Timestamp: rec.Time.UTC(),
		Kind:      KindCommand,
		Source:    rec.Source,
		Session:   rec.Session,
		User:      rec.User,
		Command:   rec.Command,
		Tool:      rec.Tool,
		Status:    rec.Status,
		Code:      rec.Code,
		Message:   rec.Message,
		LatencyMs: float64(rec.Latency.Microseconds()) / 1000,
	})
}

// RecordStatus logs a status snapshot of every tool.
func (l *Logger) RecordStatus(at time.Time, snapshots []dispatch.Snapshot) {
	l.writeEntry(Entry{
		Timestamp: at.UTC(),
		Kind:      KindStatus,
		Snapshot:  snapshots,
	})
}

// writeEntry writes an entry as one JSON line.
func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("Failed to marshal command log entry", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error("Failed to write command log entry", zap.Error(err))
	}
}

// FilePath returns the path of the active log file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Rotate starts a new log file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
