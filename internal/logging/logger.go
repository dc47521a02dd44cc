package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
}

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))

	sink, err := openSinks(opts.OutputPaths, opts.ErrorOutputPaths)
	if err != nil {
		return nil, err
	}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		return slog.New(newJSONHandler(sink, levelVar)), nil
	case "console", "":
		return slog.New(newConsoleHandler(sink, levelVar)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

func parseLevel(level string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// openSinks opens every distinct destination exactly once and fans records out
// to all of them. The names stdout and stderr map to the process streams;
// anything else is treated as a file path whose directory is created on
// demand. No destinations at all falls back to stderr.
func openSinks(outputPaths, errorPaths []string) (io.Writer, error) {
	var ordered []string
	for _, path := range append(append([]string{}, outputPaths...), errorPaths...) {
		path = strings.TrimSpace(path)
		if path == "" || slices.Contains(ordered, path) {
			continue
		}
		ordered = append(ordered, path)
	}
	if len(ordered) == 0 {
		return os.Stderr, nil
	}

	writers := make([]io.Writer, 0, len(ordered))
	for _, path := range ordered {
		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if dir := filepath.Dir(path); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("ensure log directory: %w", err)
				}
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar) slog.Handler {
	opts := slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Key = "level"
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "msg"
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}
