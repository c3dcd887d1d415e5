package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize is the size at which the run log is rotated (10MB).
	DefaultMaxLogSize = 10 * 1024 * 1024
	// LogFileExtension is the extension of run log files.
	LogFileExtension = ".jsonl"
	// ArchiveDir holds rotated logs, next to the active log.
	ArchiveDir = "archive"
)

// LogEntry is one line of the run log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	RunID     string         `json:"run_id,omitempty"`
	Step      string         `json:"step,omitempty"`
	Index     int            `json:"index,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditLogger appends pipeline events to a JSONL file with size-based
// rotation.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	rotationCounter int
}

// NewAuditLogger opens (or creates) the log at logPath.
func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if !strings.HasSuffix(logPath, LogFileExtension) {
		return nil, fmt.Errorf("run log %s: must have %s extension", logPath, LogFileExtension)
	}

	l := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Attach subscribes the logger to every event on bus. Write errors are
// reported to onError, which may be nil.
func (l *AuditLogger) Attach(bus *Bus, onError func(error)) func() {
	return bus.SubscribeAll(func(e Event) {
		if err := l.Log(e); err != nil && onError != nil {
			onError(err)
		}
	})
}

// Log converts an event into a LogEntry and writes it.
func (l *AuditLogger) Log(e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
	}
	details := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		switch k {
		case "run_id":
			entry.RunID, _ = v.(string)
		case "step":
			entry.Step, _ = v.(string)
		case "index":
			entry.Index, _ = v.(int)
		case "error":
			entry.Error, _ = v.(string)
		default:
			details[k] = v
		}
	}
	if len(details) > 0 {
		entry.Details = details
	}
	return l.WriteEntry(&entry)
}

// WriteEntry writes one JSON line, rotating first when the line would
// push the file past maxSize.
func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("run log %s is closed", l.logPath)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize > 0 && l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close current log file: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		base, time.Now().Format("20060102_150405"), l.rotationCounter, LogFileExtension)

	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive log file: %w", err)
	}
	return l.openLogFile()
}

// ReadEntries reads every well-formed entry of a run log.
func ReadEntries(logPath string) ([]LogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var out []LogEntry
	dec := json.NewDecoder(file)
	for dec.More() {
		var entry LogEntry
		if err := dec.Decode(&entry); err != nil {
			return out, fmt.Errorf("decode log entry %d: %w", len(out)+1, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close syncs and closes the log file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the active log file path.
func (l *AuditLogger) Path() string {
	return l.logPath
}
