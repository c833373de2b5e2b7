package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Options controls how the process logger is built.
type Options struct {
	Level    string // debug, info, warn, error
	Format   string // json or text
	Dir      string // when set, also write to a dated file under this directory
	MaxFiles int    // old log files kept in Dir; 0 disables pruning
}

// Initialize builds the process logger and installs it as slog's default.
// Components still receive the logger through their config structs; the
// default exists for the few places with no injection point.
func Initialize(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)

	var out io.Writer = os.Stderr
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if opts.MaxFiles > 0 {
			if err := pruneLogs(opts.Dir, opts.MaxFiles); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: log pruning failed: %v\n", err)
			}
		}
		name := fmt.Sprintf("archibridge-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pruneLogs removes the oldest log files in dir so at most max remain.
func pruneLogs(dir string, max int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) < max {
		return nil
	}

	// Names embed the creation timestamp, so lexical order is age order.
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-max+1] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
