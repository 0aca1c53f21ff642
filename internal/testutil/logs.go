package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Record is one captured log record with its attributes flattened.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogRecorder is a slog.Handler that captures records in memory.
type LogRecorder struct {
	mu      *sync.Mutex
	records *[]Record
	attrs   []slog.Attr
}

// NewLogRecorder returns a recorder and a logger writing to it.
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	r := &LogRecorder{mu: &sync.Mutex{}, records: &[]Record{}}
	return r, slog.New(r)
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]string, rec.NumAttrs()+len(r.attrs))
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.String()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, Record{Level: rec.Level, Message: rec.Message, Attrs: attrs})
	return nil
}

func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), r.attrs...), attrs...)
	return &LogRecorder{mu: r.mu, records: r.records, attrs: merged}
}

// WithGroup is accepted but groups are not reflected in attribute keys.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Records returns a copy of everything captured so far.
func (r *LogRecorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(*r.records))
	copy(out, *r.records)
	return out
}

// Find returns the records at level whose message contains substr.
func (r *LogRecorder) Find(level slog.Level, substr string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Level == level && strings.Contains(rec.Message, substr) {
			out = append(out, rec)
		}
	}
	return out
}
