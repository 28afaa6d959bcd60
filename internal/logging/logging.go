// internal/logging/logging.go

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultFile       = "finecam.log"
	DefaultMaxHistory = 500
)

type Config struct {
	// Dir holds the log file. Empty means the working directory.
	Dir        string
	File       string
	Level      string
	Console    bool
	ConsoleOut io.Writer
	MaxHistory int
}

// Entry is one log line as shown in the TUI and served by /api/logs.
type Entry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Fields    string    `json:"fields,omitempty"`
}

func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level))
	if e.Component != "" {
		fmt.Fprintf(&b, " [%s]", e.Component)
	}
	b.WriteString(" " + e.Message)
	if e.Fields != "" {
		b.WriteString(" " + e.Fields)
	}
	return b.String()
}

// Logger writes JSON lines to the log file and keeps recent entries in
// memory.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	path    string
	history *History
}

func New(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		cfg.File = DefaultFile
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	path := filepath.Join(cfg.Dir, cfg.File)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		level, err = zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	history := NewHistory(cfg.MaxHistory)
	writers := []io.Writer{file, history}
	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	zlog := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "finecam").
		Logger()

	l := &Logger{zlog: zlog, file: file, path: path, history: history}
	l.zlog.Debug().Str("file", path).Str("level", level.String()).Msg("Logger initialized")
	return l, nil
}

// Component returns a logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

func (l *Logger) History() *History { return l.history }

func (l *Logger) Path() string { return l.path }

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// History is an io.Writer that decodes zerolog's JSON lines into a bounded
// ring of entries.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	subs    map[int]func(Entry)
	nextSub int
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &History{max: max, subs: make(map[int]func(Entry))}
}

var reservedKeys = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	"component":                true,
	"app":                      true,
}

func (h *History) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		// not a zerolog event; keep it verbatim
		h.add(Entry{Time: time.Now(), Level: "info", Message: strings.TrimSpace(string(p))})
		return len(p), nil
	}

	e := Entry{Time: time.Now()}
	if s, ok := raw[zerolog.TimestampFieldName].(string); ok {
		if t, err := time.Parse(zerolog.TimeFieldFormat, s); err == nil {
			e.Time = t
		}
	}
	e.Level, _ = raw[zerolog.LevelFieldName].(string)
	e.Message, _ = raw[zerolog.MessageFieldName].(string)
	e.Component, _ = raw["component"].(string)

	var keys []string
	for k := range raw {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, raw[k]))
	}
	e.Fields = strings.Join(fields, " ")

	h.add(e)
	return len(p), nil
}

func (h *History) add(e Entry) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	subs := make([]func(Entry), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Recent returns up to limit of the newest entries, oldest first. A limit of
// zero or less returns everything.
func (h *History) Recent(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]Entry, limit)
	copy(out, h.entries[len(h.entries)-limit:])
	return out
}

// Subscribe calls fn for every new entry until the returned cancel func is
// called. fn runs on the logging goroutine and must not block.
func (h *History) Subscribe(fn func(Entry)) (cancel func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
