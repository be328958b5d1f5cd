// Package oplog keeps an in-memory, capped, append-only trail of dispatch and
// ingestion attempts for diagnostics. It is not a logging framework: entries
// are domain artifacts queryable through the API.
package oplog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Entry is one recorded operation attempt. Detail carries an arbitrary
// diagnostic payload serialized at the append boundary so the log itself
// stays type-safe.
type Entry struct {
	Time    time.Time       `json:"time"`
	Kind    Kind            `json:"kind"`
	Op      string          `json:"op"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// DefaultCap bounds the log when no explicit capacity is given.
const DefaultCap = 200

// Log is a bounded append-only list. Oldest entries are dropped beyond the
// cap. Reads return a snapshot copy.
type Log struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Log{cap: capacity}
}

// Append records one entry. detail may be nil; any value that fails to
// marshal is degraded to its string form rather than dropping the entry.
func (l *Log) Append(kind Kind, op, message string, detail any) {
	var raw json.RawMessage
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			data = []byte(strconv.Quote(fmt.Sprintf("%v", detail)))
		}
		raw = data
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Time:    time.Now(),
		Kind:    kind,
		Op:      op,
		Message: message,
		Detail:  raw,
	})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

func (l *Log) Info(op, message string, detail any)  { l.Append(KindInfo, op, message, detail) }
func (l *Log) Warn(op, message string, detail any)  { l.Append(KindWarning, op, message, detail) }
func (l *Log) Error(op, message string, detail any) { l.Append(KindError, op, message, detail) }

// Entries returns a snapshot copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear drops the whole list.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Len reports the current number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
