package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status values recorded for device operations.
const (
	StatusOK        = "OK"
	StatusCancelled = "CANCELLED"
	StatusBadPin    = "INVALID_PIN"
	StatusError     = "ERROR"
)

// maxStored bounds the in-memory history kept for Query.
const maxStored = 4096

// Entry represents an audit log entry. Entries describe what a device was
// asked to do, never the values it processed.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	DeviceID  string            `json:"device_id,omitempty"`
	Status    string            `json:"status"`
	Peer      string            `json:"peer,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Logger is an async audit logger that keeps log writes off the device path.
type Logger struct {
	entries chan Entry
	out     io.Writer

	mu    sync.RWMutex
	store []Entry

	done chan struct{}
}

// NewLogger creates a logger with the given buffer size and output writer.
// A nil writer keeps entries in memory only.
func NewLogger(bufferSize int, out io.Writer) *Logger {
	l := &Logger{
		entries: make(chan Entry, bufferSize),
		out:     out,
		done:    make(chan struct{}),
	}
	go l.processLoop()
	return l
}

// Log queues an entry. Non-blocking while the buffer has capacity.
func (l *Logger) Log(operation, deviceID, status, peer string, metadata map[string]string) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		DeviceID:  deviceID,
		Status:    status,
		Peer:      peer,
		Metadata:  metadata,
	}

	select {
	case l.entries <- entry:
	default:
		slog.Warn("audit log buffer full, dropping entry", "operation", operation)
	}
}

// Query returns stored entries, newest first, matching the non-empty filters.
func (l *Logger) Query(deviceID, operation string, since time.Time, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for i := len(l.store) - 1; i >= 0; i-- {
		e := l.store[i]
		if deviceID != "" && e.DeviceID != deviceID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// Close stops the processing loop and waits for queued entries to be written.
func (l *Logger) Close() {
	close(l.entries)
	<-l.done
}

func (l *Logger) processLoop() {
	defer close(l.done)

	for entry := range l.entries {
		l.mu.Lock()
		l.store = append(l.store, entry)
		if len(l.store) > maxStored {
			l.store = l.store[len(l.store)-maxStored:]
		}
		l.mu.Unlock()

		if l.out != nil {
			data, err := json.Marshal(entry)
			if err != nil {
				slog.Error("audit marshal", "error", err)
				continue
			}
			fmt.Fprintf(l.out, "%s\n", data)
		}
	}
}
