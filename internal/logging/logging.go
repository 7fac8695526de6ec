package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is a deliberately small, framework-agnostic logging interface.
// Result is the reporting channel domain modules use for their per-target
// summary line; the other levels are plain structured messages.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Result reports a module summary for the analysed url.
	Result(title string, summary any, url string)

	// With returns a child logger with persistent fields.
	With(fields ...Field) Logger
}

// Field is a simple key/value pair for structured logging fields.
type Field struct {
	Key   string
	Value any
}

// StdoutLogger is a tiny structured logger printing JSON lines.
type StdoutLogger struct {
	component string
	fields    []Field
	out       io.Writer
	mu        *sync.Mutex
}

// NewStdoutLogger creates a new StdoutLogger. component is optional and
// is included in every line.
func NewStdoutLogger(component string) *StdoutLogger {
	return NewWriterLogger(component, os.Stdout)
}

// NewWriterLogger is NewStdoutLogger writing to w instead of stdout.
func NewWriterLogger(component string, w io.Writer) *StdoutLogger {
	return &StdoutLogger{component: component, out: w, mu: &sync.Mutex{}}
}

type outEntry struct {
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Time      string         `json:"time"`
	URL       string         `json:"url,omitempty"`
	Summary   any            `json:"summary,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (s *StdoutLogger) write(entry outEntry, fields []Field) {
	m := make(map[string]any, len(s.fields)+len(fields))
	for _, f := range s.fields {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			m[f.Key] = err.Error()
			continue
		}
		m[f.Key] = f.Value
	}
	if len(m) > 0 {
		entry.Fields = m
	}
	entry.Component = s.component
	entry.Time = time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(entry)
	if err != nil {
		// Fallback simple formatting if JSON marshal fails
		fmt.Fprintf(s.out, "%s %s %v\n", entry.Level, entry.Msg, m)
		return
	}
	fmt.Fprintln(s.out, string(enc))
}

func (s *StdoutLogger) Debug(msg string, fields ...Field) {
	s.write(outEntry{Level: "debug", Msg: msg}, fields)
}

func (s *StdoutLogger) Info(msg string, fields ...Field) {
	s.write(outEntry{Level: "info", Msg: msg}, fields)
}

func (s *StdoutLogger) Warn(msg string, fields ...Field) {
	s.write(outEntry{Level: "warn", Msg: msg}, fields)
}

func (s *StdoutLogger) Error(msg string, fields ...Field) {
	s.write(outEntry{Level: "error", Msg: msg}, fields)
}

func (s *StdoutLogger) Result(title string, summary any, url string) {
	s.write(outEntry{Level: "result", Msg: title, URL: url, Summary: summary}, nil)
}

// With returns a child logger. A "component" field replaces the component
// name; other fields are attached to every line of the child.
func (s *StdoutLogger) With(fields ...Field) Logger {
	child := &StdoutLogger{
		component: s.component,
		fields:    append([]Field(nil), s.fields...),
		out:       s.out,
		mu:        s.mu,
	}
	for _, f := range fields {
		if f.Key == "component" {
			if str, ok := f.Value.(string); ok {
				child.component = str
				continue
			}
		}
		child.fields = append(child.fields, f)
	}
	return child
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...Field)     {}
func (Nop) Info(string, ...Field)      {}
func (Nop) Warn(string, ...Field)      {}
func (Nop) Error(string, ...Field)     {}
func (Nop) Result(string, any, string) {}
func (n Nop) With(...Field) Logger     { return n }
