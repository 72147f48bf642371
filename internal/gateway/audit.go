package gateway

import (
	"strings"
	"sync"
	"time"
)

const maxAuditEntries = 10000

// AuditEntry records one gateway-handled request.
type AuditEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	UserID         string    `json:"userId,omitempty"`
	Path           string    `json:"path"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMS int64     `json:"responseTimeMs"`
	UserAgent      string    `json:"userAgent,omitempty"`
	IP             string    `json:"ip,omitempty"`
}

// AuditLog is the in-memory append-only log, oldest-evicted past the cap.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxAuditEntries {
		l.entries = l.entries[len(l.entries)-maxAuditEntries:]
	}
}

// AuditFilter narrows Entries; zero values match everything.
type AuditFilter struct {
	UserID     string
	PathPrefix string
	StatusCode int
	Since      time.Time
	Limit      int
}

// Entries returns matching entries newest first.
func (l *AuditLog) Entries(f AuditFilter) []AuditEntry {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AuditEntry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.PathPrefix != "" && !strings.HasPrefix(e.Path, f.PathPrefix) {
			continue
		}
		if f.StatusCode != 0 && e.StatusCode != f.StatusCode {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
