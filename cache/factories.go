package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// ConsoleLogger writes leveled key/value lines to a writer.
type ConsoleLogger struct {
	prefix string
	out    io.Writer
	mu     sync.Mutex
}

func (cl *ConsoleLogger) write(level, msg string, args []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", level, cl.prefix, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')

	cl.mu.Lock()
	defer cl.mu.Unlock()
	io.WriteString(cl.out, b.String())
}

// Debug logs a debug message to console.
func (cl *ConsoleLogger) Debug(msg string, args ...any) { cl.write("DEBUG", msg, args) }

// Info logs an info message to console.
func (cl *ConsoleLogger) Info(msg string, args ...any) { cl.write("INFO", msg, args) }

// Warn logs a warning message to console.
func (cl *ConsoleLogger) Warn(msg string, args ...any) { cl.write("WARN", msg, args) }

// Error logs an error message to console.
func (cl *ConsoleLogger) Error(msg string, args ...any) { cl.write("ERROR", msg, args) }

// NewConsoleLogger creates a new console logger writing to stdout.
func NewConsoleLogger(prefix string) Logger {
	return NewWriterLogger(prefix, os.Stdout)
}

// NewWriterLogger creates a console-style logger writing to w.
func NewWriterLogger(prefix string, w io.Writer) Logger {
	return &ConsoleLogger{prefix: prefix, out: w}
}

// JSONMarshaller is a marshaller that uses the standard JSON library.
type JSONMarshaller struct{}

// Marshal serializes a value to JSON.
func (jm *JSONMarshaller) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (jm *JSONMarshaller) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return &JSONMarshaller{}
}
