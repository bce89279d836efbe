// Package logctx centralizes the structured WARN/ERROR lines the
// retry engine, the credential manager and the syncworker command
// emit, so call sites stay one-liners
// instead of hand-rolling key=value formatting everywhere.
package logctx

import (
	"fmt"
	"log"
	"strings"
)

// Field is a single key=value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func render(level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(toString(f.Value))
	}
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		if t == nil {
			return ""
		}
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Warn logs a line at WARN with the given fields. The retry engine
// uses it once per retry, passing the caller, attempt index, computed
// delay and error.
func Warn(msg string, fields ...Field) {
	log.Print(render("WARN", msg, fields))
}

// Error logs a terminal-failure line at ERROR.
func Error(msg string, fields ...Field) {
	log.Print(render("ERROR", msg, fields))
}
