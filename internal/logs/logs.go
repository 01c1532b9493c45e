// Package logs reads the tail of an agent's captured output.
package logs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/agentdeck/internal/registry"
	"github.com/loykin/agentdeck/internal/sandbox"
)

// NoLogs is returned by Tail.Text when no log file exists at all.
const NoLogs = "NO_LOGS_FOUND"

const (
	DefaultLines       = 100
	DefaultLegacyLines = 50
)

type Source string

const (
	SourceAgent  Source = "agent"
	SourceLegacy Source = "legacy"
	SourceNone   Source = "none"
)

type Tail struct {
	Lines  []string `json:"lines"`
	Source Source   `json:"source"`
}

// Text joins the lines, or returns NoLogs when there was no file.
func (t Tail) Text() string {
	if t.Source == SourceNone {
		return NoLogs
	}
	return strings.Join(t.Lines, "\n")
}

type Config struct {
	Dir string
	// LegacyFile is the shared log used before per-agent files existed.
	LegacyFile  string
	Lines       int
	LegacyLines int
}

type Reader struct {
	root   sandbox.Root
	cfg    Config
	logger *slog.Logger
}

func NewReader(cfg Config, log *slog.Logger) (*Reader, error) {
	root, err := sandbox.New(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if cfg.Lines <= 0 {
		cfg.Lines = DefaultLines
	}
	if cfg.LegacyLines <= 0 {
		cfg.LegacyLines = DefaultLegacyLines
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{root: root, cfg: cfg, logger: log}, nil
}

// Path returns the agent's dedicated log file.
func (r *Reader) Path(agentID string) (string, error) {
	if err := registry.ValidateID(agentID); err != nil {
		return "", err
	}
	return r.root.Resolve(registry.HandleFor(agentID) + ".log")
}

// Tail returns the last lines of the agent's log, falling back to the
// legacy file. A missing file is not an error.
func (r *Reader) Tail(agentID string) (Tail, error) {
	p, err := r.Path(agentID)
	if err != nil {
		return Tail{}, err
	}
	lines, err := lastLines(p, r.cfg.Lines)
	if err == nil {
		return Tail{Lines: lines, Source: SourceAgent}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Tail{}, err
	}
	if r.cfg.LegacyFile != "" {
		lines, err = lastLines(r.cfg.LegacyFile, r.cfg.LegacyLines)
		if err == nil {
			return Tail{Lines: lines, Source: SourceLegacy}, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Tail{}, err
		}
	}
	return Tail{Lines: []string{}, Source: SourceNone}, nil
}

// lastLines reads the whole file and keeps the last n lines.
func lastLines(path string, n int) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimRight(b, "\n")
	if len(b) == 0 {
		return []string{}, nil
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Follow calls fn with the current tail and again whenever it changes,
// until ctx is done or fn returns an error. Changes are picked up through
// fsnotify with interval polling as a fallback.
func (r *Reader) Follow(ctx context.Context, agentID string, interval time.Duration, fn func(Tail) error) error {
	p, err := r.Path(agentID)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer func() { _ = w.Close() }()
		if err := w.Add(filepath.Dir(p)); err == nil {
			events, errs = w.Events, w.Errors
		} else {
			r.logger.Debug("log follow: watching disabled", "agent", agentID, "err", err)
		}
	}
	watched := map[string]bool{filepath.Base(p): true}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	sent := false
	emit := func() error {
		t, err := r.Tail(agentID)
		if err != nil {
			return err
		}
		txt := string(t.Source) + "\x00" + t.Text()
		if sent && txt == last {
			return nil
		}
		last, sent = txt, true
		return fn(t)
	}

	if err := emit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if watched[filepath.Base(ev.Name)] {
				if err := emit(); err != nil {
					return err
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Debug("log follow: watcher error", "agent", agentID, "err", err)
		case <-ticker.C:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}
