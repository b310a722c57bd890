// Package observability provides the structured logging facade used across
// the library. Callers that do not care pass NopLogger.
package observability

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field      { return Field{Key: key, Value: value} }
func Int(key string, value int) Field     { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Error(key string, err error) Field   { return Field{Key: key, Value: err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// TextLogger writes one line per event to an io.Writer. Safe for concurrent
// use; the ops layer logs from worker goroutines.
type TextLogger struct {
	mu     sync.Mutex
	out    io.Writer
	fields []Field
}

func NewTextLogger(out io.Writer) *TextLogger { return &TextLogger{out: out} }

func (l *TextLogger) log(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %-5s %s", time.Now().Format(time.RFC3339), level, msg)
	for _, f := range l.fields {
		fmt.Fprintf(l.out, " %s=%v", f.Key, f.Value)
	}
	for _, f := range fields {
		fmt.Fprintf(l.out, " %s=%v", f.Key, f.Value)
	}
	fmt.Fprintln(l.out)
}

func (l *TextLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields) }
func (l *TextLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields) }
func (l *TextLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields) }
func (l *TextLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields) }

func (l *TextLogger) With(fields ...Field) Logger {
	child := &TextLogger{out: l.out}
	child.fields = append(append([]Field(nil), l.fields...), fields...)
	return child
}
