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

// consoleHandler renders compact single-line records of the form
//
//	2026-01-02T15:04:05Z INFO scheduler: state changed state=playing
//
// with the component attribute folded into the message prefix. Attrs added
// through With are rendered once at attach time rather than on every record.
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     *slog.LevelVar
	component string
	prefix    string
	preformat []byte
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar) slog.Handler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: lvl}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	component := h.component
	var attrs []byte
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == FieldComponent && h.prefix == "" {
			if component == "" {
				component = attr.Value.Resolve().String()
			}
			return true
		}
		attrs = appendAttr(attrs, h.prefix, attr)
		return true
	})

	buf := make([]byte, 0, 160+len(h.preformat)+len(attrs))
	buf = timestamp.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, levelTag(record.Level)...)
	buf = append(buf, ' ')
	if component != "" {
		buf = append(buf, component...)
		buf = append(buf, ": "...)
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		buf = append(buf, msg...)
	} else {
		buf = append(buf, "(no message)"...)
	}
	buf = append(buf, h.preformat...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	pre := append([]byte(nil), h.preformat...)
	for _, attr := range attrs {
		if attr.Key == FieldComponent && h.prefix == "" {
			clone.component = attr.Value.Resolve().String()
			continue
		}
		pre = appendAttr(pre, h.prefix, attr)
	}
	clone.preformat = pre
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

func appendAttr(buf []byte, prefix string, attr slog.Attr) []byte {
	if attr.Equal(slog.Attr{}) {
		return buf
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = joinKey(prefix, attr.Key)
		}
		for _, member := range value.Group() {
			buf = appendAttr(buf, next, member)
		}
		return buf
	}
	if attr.Key == "" {
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, joinKey(prefix, attr.Key)...)
	buf = append(buf, '=')
	return appendValue(buf, value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendScalar(buf, v.String())
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return appendScalar(buf, v.Duration().String())
	case slog.KindTime:
		return v.Time().UTC().AppendFormat(buf, time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return appendScalar(buf, err.Error())
		}
		return appendScalar(buf, fmt.Sprint(v.Any()))
	default:
		return appendScalar(buf, v.String())
	}
}

// appendScalar quotes values that would break the key=value grammar.
func appendScalar(buf []byte, s string) []byte {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
