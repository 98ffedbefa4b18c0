// Package logging builds the daemon's slog logger. Lines land in
// BASE/logs/sync.log as "[ISO-8601] [LEVEL] message key=value ...". The
// logger is constructed once at daemon start and passed by reference.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// New returns a logger appending to logFile. When mirror is non-nil (e.g.
// os.Stderr for foreground runs) every line is written there too.
func New(logFile string, level slog.Level, mirror io.Writer) (*slog.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	h := &lineHandler{path: logFile, level: level, mirror: mirror, mu: &sync.Mutex{}}
	return slog.New(h), nil
}

// lineHandler renders records in the sync.log line format. The file is opened
// per write so an externally rotated or removed log is recreated.
type lineHandler struct {
	path   string
	level  slog.Level
	mirror io.Writer
	attrs  []slog.Attr

	mu *sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(record.Time.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString("] [")
	b.WriteString(strings.ToLower(record.Level.String()))
	b.WriteString("] ")
	b.WriteString(record.Message)

	for _, attr := range h.attrs {
		writeAttr(&b, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, attr)
		return true
	})
	b.WriteString("\n")
	line := b.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(line)
	cerr := f.Close()

	if h.mirror != nil {
		_, _ = io.WriteString(h.mirror, line)
	}

	if werr != nil {
		return werr
	}
	return cerr
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	// Groups are not used by the daemon; attrs keep their flat keys.
	return h
}

func writeAttr(b *strings.Builder, attr slog.Attr) {
	b.WriteString(" ")
	b.WriteString(attr.Key)
	b.WriteString("=")
	b.WriteString(attr.Value.String())
}
