package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes human oriented lines:
//
//	2026-01-02T15:04:05.000Z INFO  reconcile [set1/cam0 boxes]: persisted kept=3 req=7f3a
//
// The component and the dataset/camera/kind scope lead the line so a tail of
// the daemon log can be scanned per source. The request id trails everything.
type consoleHandler struct {
	mu         *sync.Mutex
	w          io.Writer
	level      *slog.LevelVar
	withSource bool
	color      bool

	// preformatted attributes from WithAttrs, already flattened.
	fields []field
	prefix string
}

type field struct {
	key string
	val slog.Value
}

func newConsoleHandler(w io.Writer, level *slog.LevelVar, withSource, color bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, withSource: withSource, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.fields = append(append([]field(nil), h.fields...), flatten(h.prefix, attrs)...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, flatten(h.prefix, []slog.Attr{a})...)
		return true
	})

	var head lineHead
	rest := fields[:0]
	for _, f := range fields {
		if !head.take(f) {
			rest = append(rest, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf := make([]byte, 0, 160)
	buf = ts.UTC().AppendFormat(buf, timeLayout)
	buf = append(buf, ' ')
	buf = h.appendLevel(buf, r.Level)
	buf = head.append(buf)

	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf = append(buf, msg...)

	if h.withSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			buf = append(buf, " ["...)
			buf = append(buf, shortSource(src)...)
			buf = append(buf, ']')
		}
	}
	for _, f := range rest {
		buf = appendField(buf, f.key, f.val)
	}
	if head.request != "" {
		buf = appendField(buf, "req", slog.StringValue(head.request))
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// lineHead collects the fields promoted out of the key=value tail. The first
// value seen wins, so handler attrs beat per-record duplicates.
type lineHead struct {
	component, dataset, camera, kind, request string
}

func (l *lineHead) take(f field) bool {
	var slot *string
	switch f.key {
	case FieldComponent:
		slot = &l.component
	case FieldDataset:
		slot = &l.dataset
	case FieldCamera:
		slot = &l.camera
	case FieldAnnotationKind:
		slot = &l.kind
	case FieldCorrelationID:
		slot = &l.request
	default:
		return false
	}
	if *slot == "" {
		*slot = valueText(f.val)
	}
	return true
}

func (l *lineHead) append(buf []byte) []byte {
	scope := l.dataset
	if l.camera != "" {
		scope = joinNonEmpty(scope, l.camera, "/")
	}
	if l.kind != "" {
		scope = joinNonEmpty(scope, l.kind, " ")
	}
	if l.component == "" && scope == "" {
		return buf
	}
	buf = append(buf, l.component...)
	if scope != "" {
		if l.component != "" {
			buf = append(buf, ' ')
		}
		buf = append(buf, '[')
		buf = append(buf, scope...)
		buf = append(buf, ']')
	}
	return append(buf, ": "...)
}

func joinNonEmpty(a, b, sep string) string {
	if a == "" {
		return b
	}
	return a + sep + b
}

func (h *consoleHandler) appendLevel(buf []byte, l slog.Level) []byte {
	label, color := "DEBUG", "\x1b[90m"
	switch {
	case l >= slog.LevelError:
		label, color = "ERROR", "\x1b[31m"
	case l >= slog.LevelWarn:
		label, color = "WARN ", "\x1b[33m"
	case l >= slog.LevelInfo:
		label, color = "INFO ", "\x1b[32m"
	}
	if h.color {
		buf = append(buf, color...)
		buf = append(buf, label...)
		buf = append(buf, "\x1b[0m"...)
	} else {
		buf = append(buf, label...)
	}
	return append(buf, ' ')
}

// flatten expands groups into dotted keys and drops empty attrs.
func flatten(prefix string, attrs []slog.Attr) []field {
	var out []field
	for _, a := range attrs {
		v := a.Value.Resolve()
		if a.Key == "" && v.Kind() != slog.KindGroup {
			continue
		}
		if v.Kind() == slog.KindGroup {
			inner := prefix
			if a.Key != "" {
				inner = prefix + a.Key + "."
			}
			out = append(out, flatten(inner, v.Group())...)
			continue
		}
		out = append(out, field{key: prefix + a.Key, val: v})
	}
	return out
}

func appendField(buf []byte, key string, v slog.Value) []byte {
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, '=')
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().UTC().AppendFormat(buf, timeLayout)
	}
	s := valueText(v)
	if bare(s) {
		return append(buf, s...)
	}
	return strconv.AppendQuote(buf, s)
}

func valueText(v slog.Value) string {
	if v.Kind() != slog.KindAny {
		return v.String()
	}
	switch x := v.Any().(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// bare reports whether s can be printed without quoting.
func bare(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"' || r == 0x7f
	})
}
