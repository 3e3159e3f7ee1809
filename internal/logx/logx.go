package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

var enableColor = isatty.IsTerminal(os.Stdout.Fd()) && strings.TrimSpace(os.Getenv("NO_COLOR")) == ""

const redacted = "[REDACTED]"

func ColorEnabled() bool { return enableColor }

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes single-line diagnostics. Field values whose key looks
// sensitive are masked before they reach the sink. A nil *Logger discards.
type Logger struct {
	l     *log.Logger
	level Level
	now   func() time.Time
}

func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{l: log.New(w, "", 0), level: level, now: time.Now}
}

func Discard() *Logger { return New(io.Discard, LevelError) }

func (lg *Logger) Enabled(level Level) bool {
	return lg != nil && level >= lg.level
}

func (lg *Logger) Debug(msg string, fields map[string]any) { lg.emit(LevelDebug, msg, fields) }
func (lg *Logger) Info(msg string, fields map[string]any)  { lg.emit(LevelInfo, msg, fields) }
func (lg *Logger) Warn(msg string, fields map[string]any)  { lg.emit(LevelWarn, msg, fields) }
func (lg *Logger) Error(msg string, fields map[string]any) { lg.emit(LevelError, msg, fields) }

func (lg *Logger) emit(level Level, msg string, fields map[string]any) {
	if !lg.Enabled(level) {
		return
	}
	lg.l.Println(FormatLine(lg.now(), level, msg, fields))
}

// FormatLine renders a diagnostic line.
//
// Example:
// [DG] 2026/01/26 - 17:44:22 | INFO | context resolved | role=User user_id=42
func FormatLine(ts time.Time, level Level, msg string, fields map[string]any) string {
	base := fmt.Sprintf(`[DG] %s | %s | %s`, ts.Format("2006/01/02 - 15:04:05"), level.String(), strings.TrimSpace(msg))
	extra := formatFields(fields)
	if extra == "" {
		return base
	}
	return base + " | " + extra
}

func ColorizeStatus(status int) string {
	return ColorizeStatusWith(status, enableColor)
}

func ColorizeStatusWith(status int, color bool) string {
	if !color {
		return strconv.Itoa(status)
	}
	// ANSI colors
	const (
		reset  = "\x1b[0m"
		red    = "\x1b[31m"
		green  = "\x1b[32m"
		yellow = "\x1b[33m"
		cyan   = "\x1b[36m"
	)
	switch {
	case status >= 200 && status < 300:
		return green + strconv.Itoa(status) + reset
	case status >= 300 && status < 400:
		return cyan + strconv.Itoa(status) + reset
	case status >= 400 && status < 500:
		return yellow + strconv.Itoa(status) + reset
	default:
		return red + strconv.Itoa(status) + reset
	}
}

// FormatRequestLineWithColor prints a single line access log.
//
// Example:
// [DG] 2026/01/26 - 17:44:22 | 200 | 12.3ms | 127.0.0.1 | POST "/hooks/datasource-item" | role=User user_id=42
func FormatRequestLineWithColor(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
	color bool,
) string {
	base := fmt.Sprintf(
		`[DG] %s | %s | %s | %s | %s %q`,
		ts.Format("2006/01/02 - 15:04:05"),
		ColorizeStatusWith(status, color),
		latency.String(),
		strings.TrimSpace(clientIP),
		strings.TrimSpace(method),
		path,
	)
	extra := formatFields(fields)
	if extra == "" {
		return base
	}
	return base + " | " + extra
}

// SensitiveKey reports whether values stored under key must never be logged.
func SensitiveKey(key string) bool {
	lk := strings.ToLower(strings.TrimSpace(key))
	if lk == "" {
		return false
	}
	if lk == "dsn" || lk == "cookie" || lk == "set-cookie" {
		return true
	}
	for _, s := range []string{"password", "passwd", "secret", "token", "authorization", "api-key", "api_key"} {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

// Redact masks v when key is sensitive. Empty values stay empty so that
// "<not set>" and "set but hidden" remain distinguishable.
func Redact(key string, v any) any {
	if !SensitiveKey(key) {
		return v
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return ""
	}
	if v == nil {
		return nil
	}
	return redacted
}

// MaskHeader is Redact for header values.
func MaskHeader(key, val string) string {
	if SensitiveKey(key) && val != "" {
		return redacted
	}
	return val
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := Redact(k, fields[k])
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, t))
		case []string:
			parts = append(parts, fmt.Sprintf("%s=[%s]", k, strings.Join(t, ",")))
		case float64:
			s := strings.TrimSpace(strconv.FormatFloat(t, 'f', 12, 64))
			s = strings.TrimRight(s, "0")
			s = strings.TrimRight(s, ".")
			if s == "" || s == "-" {
				s = "0"
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, s))
		default:
			s := strings.TrimSpace(fmt.Sprintf("%v", v))
			if s == "" || s == "<nil>" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, s))
		}
	}
	return strings.Join(parts, " ")
}
