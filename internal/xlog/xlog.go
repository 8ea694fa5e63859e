// Package xlog adapts log/slog into the handler-and-context style used across
// this module, mirroring the convention go-ethereum's log package settled on
// once it moved onto log/slog: a root logger, derived contextual loggers, and
// a terminal handler that colorizes output when stderr is attached to a tty.
package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the interface every component in this module logs through.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	New(ctx ...any) Logger
}

const levelTrace = slog.Level(-8)

type logger struct {
	inner *slog.Logger
}

func (l *logger) log(level slog.Level, msg string, ctx ...any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	pcs := stack.Callers()
	var caller string
	if len(pcs) > 2 {
		caller = fmt.Sprintf("%+v", pcs[2])
	}
	args := make([]any, 0, len(ctx)+2)
	if caller != "" {
		args = append(args, "caller", caller)
	}
	args = append(args, ctx...)
	l.inner.Log(context.Background(), level, msg, args...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(levelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(slog.LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(slog.LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(slog.LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.log(slog.LevelError, msg, ctx...) }

func (l *logger) New(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

var (
	rootMu sync.Mutex
	root   Logger = newDefault()
)

func newDefault() Logger {
	return &logger{inner: slog.New(NewTerminalHandler(os.Stderr))}
}

// Root returns the package-level default logger.
func Root() Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// SetRoot replaces the package-level default logger, used by a host
// application that wants a different sink (JSON, a file, etc).
func SetRoot(l Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}

// New returns a child of the root logger carrying the given key/value context.
func New(ctx ...any) Logger { return Root().New(ctx...) }

// terminalHandler renders level + message + key=value pairs, colorized when
// writing to a tty.
type terminalHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	color  bool
	minLvl slog.Level
	attrs  []slog.Attr
}

// NewTerminalHandler builds a slog.Handler writing human-readable lines to w,
// colorizing level strings when w is a tty. When color is enabled and w is an
// *os.File, writes go through go-colorable so the ANSI codes render on
// Windows consoles too, matching go-ethereum's log.NewTerminalHandler.
func NewTerminalHandler(w io.Writer) slog.Handler {
	useColor := isTerminal(w) && os.Getenv("TERM") != "dumb"
	out := w
	if useColor {
		if f, ok := w.(*os.File); ok {
			out = colorable.NewColorable(f)
		}
	}
	return &terminalHandler{mu: &sync.Mutex{}, w: out, color: useColor, minLvl: levelTrace}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLvl
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelString(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *terminalHandler) WithGroup(name string) slog.Handler { return h }

func levelString(l slog.Level, color bool) string {
	var s, code string
	switch {
	case l < slog.LevelDebug:
		s, code = "TRCE", "35"
	case l < slog.LevelInfo:
		s, code = "DBUG", "36"
	case l < slog.LevelWarn:
		s, code = "INFO", "32"
	case l < slog.LevelError:
		s, code = "WARN", "33"
	default:
		s, code = "ERRO", "31"
	}
	if !color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
