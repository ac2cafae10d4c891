// Package logs keeps the most recent log records in memory so an admin can read them
// without shell access. The buffer is created once at startup and injected wherever it is
// written to or read from.
package logs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the number of records kept when no capacity is configured.
const DefaultCapacity = 1000

// Entry is one buffered log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed size ring of log entries. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Add appends an entry, overwriting the oldest once the buffer is full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to limit entries at or above minLevel, newest first.
// A limit <= 0 returns every matching entry.
func (b *Buffer) Recent(limit int, minLevel slog.Level) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	if b.full {
		n = len(b.entries)
	}

	out := make([]Entry, 0, min(n, max(limit, 0)))
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + len(b.entries)) % len(b.entries)
		e := b.entries[idx]
		if e.Level < minLevel {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.entries)
	b.next = 0
	b.full = false
}

// NewHandler returns a slog.Handler that records into buf and then forwards to next.
func NewHandler(next slog.Handler, buf *Buffer) slog.Handler {
	return &handler{next: next, buf: buf}
}

var _ slog.Handler = (*handler)(nil)

type handler struct {
	next   slog.Handler
	buf    *Buffer
	attrs  []slog.Attr // already qualified by group
	groups []string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(attrs, "", a)
	}

	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, prefix, a)
		return true
	})

	h.buf.Add(Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})

	return h.next.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {

	prefix := groupPrefix(h.groups)
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		qualified = append(qualified, a)
	}

	return &handler{
		next:   h.next.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  qualified,
		groups: h.groups,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {

	if name == "" {
		return h
	}

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &handler{
		next:   h.next.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: groups,
	}
}

func groupPrefix(groups []string) string {
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

// addAttr flattens groups into dotted keys.
func addAttr(dst map[string]any, prefix string, a slog.Attr) {

	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, p, ga)
		}
		return
	}

	if a.Key == "" {
		return
	}

	dst[prefix+a.Key] = v.Any()
}
