// Package logger provides structured JSON logging with redaction of
// tracking credentials. Access tokens must never reach the logs in full, and
// click identifiers are attribution-sensitive, so both are masked by default.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger writes structured JSON entries with key/value fields.
type Logger struct {
	level  Level
	mu     sync.Mutex
	redact bool
}

var defaultLogger = &Logger{level: INFO, redact: true}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedact enables or disables credential redaction for the default logger.
func SetRedact(r bool) { defaultLogger.redact = r }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redact {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()
}

// redactValue masks sensitive fields by key name. Credentials are fully
// masked; click identifiers keep a short prefix so related entries can still
// be correlated by eye.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "token") || strings.Contains(k, "secret"):
		return MaskToken(val)
	case strings.Contains(k, "clickid") || strings.Contains(k, "click_id"):
		return MaskClickID(val)
	}
	return val
}

// MaskToken fully masks a credential, keeping only its length.
// "abcdef123456" → "***(12)"
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("***(%d)", len(token))
}

// MaskClickID keeps the first four characters of a click identifier.
// "ABC123XYZ" → "ABC1***"
func MaskClickID(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[:4] + "***"
}
