package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders records as one colored key=value line for terminals.
// The CLI uses it; serve logs JSON.
//
// Attributes added through WithAttrs are rendered once, with the group
// prefix in effect at that point, and reused for every record.
type prettyHandler struct {
	w         io.Writer
	level     slog.Leveler
	addSource bool
	color     bool

	prefix string // open groups, joined and dot-terminated
	pre    string // rendered WithAttrs attributes
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, level: slog.LevelInfo, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=")
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteString(" lvl=")
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteString(" msg=")
	b.WriteString(paint(r.Message, ansiBright, h.color))

	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
		}
	}

	b.WriteString(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.pre)
	for _, a := range attrs {
		h.appendAttr(&b, a, h.prefix)
	}
	cp := *h
	cp.pre = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return
		}
		// An unnamed group inlines its members.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range attrs {
			h.appendAttr(b, ga, prefix)
		}
		return
	}
	if key == "" || a.Equal(slog.Attr{}) {
		return
	}

	full := prefix + key
	b.WriteByte(' ')
	b.WriteString(displayKey(full))
	b.WriteByte('=')
	b.WriteString(h.styleValue(key, a.Value))
}

// styleValue colors well-known keys. Matching uses the bare key so grouped
// attributes are styled the same way.
func (h *prettyHandler) styleValue(key string, v slog.Value) string {
	s := strings.TrimSpace(formatValue(v))
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(s), h.color)
	case "path", "location":
		return paint(s, ansiCyan, h.color)
	case "status":
		// HTTP status codes are ints; session statuses are names.
		if n, ok := valueToInt64(v); ok && v.Kind() != slog.KindString {
			return colorizeStatusCode(int(n), h.color)
		}
		return colorizeResult(s, h.color)
	case "status_class", "class":
		return colorizeStatusClass(s, h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result", "outcome", "decision", "from", "to":
		return colorizeResult(strings.ToLower(s), h.color)
	case "credential_fp", "attempt_id", "conn_id":
		return paint(s, ansiDim, h.color)
	case "err":
		return paint(quoteIfNeeded(s), ansiRed, h.color)
	}
	return quoteIfNeeded(s)
}

// displayKey shortens the request-log keys.
func displayKey(k string) string {
	switch {
	case k == "status_class" || strings.HasSuffix(k, ".status_class"):
		return strings.TrimSuffix(k, "status_class") + "class"
	case k == "duration_ms" || strings.HasSuffix(k, ".duration_ms"):
		return strings.TrimSuffix(k, "duration_ms") + "duration"
	default:
		return k
	}
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		// String, Int64, Uint64, Bool and Duration format like fmt.
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var levelStyles = []struct {
	min   slog.Level
	label string
	color string
}{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
}

func levelTag(level slog.Level, color bool) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return paint(s.label, s.color, color)
		}
	}
	return paint("[DEBUG]", ansiMagenta, color)
}
