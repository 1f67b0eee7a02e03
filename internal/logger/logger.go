// Package logger provides the daemon's slog handler and its file and stderr
// sinks.
//
// Each record is one line:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2="two words"
//
// Values containing spaces or separators are quoted so that prompts and
// replies stay on one parseable line. Values of credential-bearing keys are
// replaced with [Redacted].
//
// Two levels extend the slog set: LevelTrace (-8) for state-machine
// transitions and LevelFail (12) for the single line written before a fatal
// exit.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

// levels is ordered by severity; a record takes the name of the first entry
// whose level is at or above its own.
var levels = []struct {
	level slog.Level
	name  string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
}

func levelName(l slog.Level) string {
	for _, e := range levels {
		if l <= e.level {
			return e.name
		}
	}
	return "FAIL"
}

// ParseLevel converts a config level string to a slog.Level,
// case-insensitively. Unknown strings map to LevelInfo.
func ParseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "FAIL" {
		return LevelFail
	}
	for _, e := range levels {
		if e.name == s {
			return e.level
		}
	}
	return LevelInfo
}

// ///////////////////////////////////////////////
// Redaction
// ///////////////////////////////////////////////

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[redacted]"

// secretKeyParts mark an attribute key as credential-bearing. Keys ending
// in "token" are too; "tokens" counts usage and is left alone.
var secretKeyParts = []string{"secret", "api_key", "apikey", "authorization", "password"}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "token") {
		return true
	}
	for _, p := range secretKeyParts {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

var lineEnding = "\n"

func init() {
	if runtime.GOOS == "windows" {
		lineEnding = "\r\n"
	}
}

// Handler is a slog.Handler writing the single-line format described in the
// package documentation. Handlers derived through WithAttrs and WithGroup
// share the parent's writer lock.
type Handler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Level
	prefix string
	// pre holds attributes added through WithAttrs, already rendered.
	pre []string
}

// NewHandler creates a Handler that writes to w, filtering records below level.
func NewHandler(w io.Writer, level slog.Level) *Handler {
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString(" [")
	b.WriteString(levelName(r.Level))
	b.WriteString("] ")
	b.WriteString(r.Message)

	fields := append([]string(nil), h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, a)
		return true
	})
	if len(fields) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(fields, ", "))
	}
	b.WriteString(lineEnding)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs returns a Handler that prepends attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := append([]string(nil), h.pre...)
	for _, a := range attrs {
		pre = appendAttr(pre, h.prefix, a)
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: h.prefix, pre: pre}
}

// WithGroup returns a Handler whose subsequent keys are prefixed "name.".
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: h.prefix + name + ".", pre: h.pre}
}

// appendAttr renders a as key=value, flattening groups into dotted keys.
func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, g := range a.Value.Group() {
			fields = appendAttr(fields, inner, g)
		}
		return fields
	}
	key := prefix + a.Key
	if isSecretKey(a.Key) {
		return append(fields, key+"="+Redacted)
	}
	return append(fields, key+"="+formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().UTC().Format(time.RFC3339)
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n,=|\"") {
		return strconv.Quote(s)
	}
	return s
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// Options controls where and how much the daemon logs.
type Options struct {
	// Path is the rotating log file. Empty disables the file sink.
	Path string
	// Level is the minimum severity written.
	Level slog.Level
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int
	// Stderr, when set, receives every record as well.
	Stderr io.Writer
}

// NewLogger creates a slog.Logger writing to a rotating file and,
// optionally, opts.Stderr. The returned io.Closer flushes and closes the
// file sink.
func NewLogger(opts Options) (*slog.Logger, io.Closer, error) {
	var sinks []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28,
		}
		sinks = append(sinks, lj)
		closer = lj
	}
	if opts.Stderr != nil {
		sinks = append(sinks, opts.Stderr)
	}
	if len(sinks) == 0 {
		return nil, nil, fmt.Errorf("logger: no sink configured")
	}

	return slog.New(NewHandler(io.MultiWriter(sinks...), opts.Level)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ///////////////////////////////////////////////
// Helper Functions
// ///////////////////////////////////////////////

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs a message at LevelFail. The daemon emits exactly one FAIL line
// before exiting on an unrecoverable condition.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}
