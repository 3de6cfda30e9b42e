package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
	segmentSep      = "  "
	continuation    = "    "
)

// groupedAttr is an attribute bound by WithAttrs under the groups open at
// that time.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

// prettyHandler renders records as aligned key=value lines for a developer
// terminal. Lines are wrapped at the terminal width.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []groupedAttr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.opts.Level != nil {
		floor = h.opts.Level.Level()
	}
	return level >= floor
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	head := h.paint(ansiDim, ts.Format("15:04:05.000")) + " " +
		levelTag(r.Level, h.color) + " " +
		h.paint(ansiBright, r.Message)

	segs := []string{head}
	for _, ga := range h.attrs {
		segs = h.appendAttr(segs, ga.attr, ga.prefix)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, prefix)
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			segs = append(segs, h.paint(ansiDim, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	out := strings.Join(wrapSegments(segs, segmentSep, h.terminalWidth(), continuation), "\n") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out)
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	prefix := strings.Join(h.groups, ".")
	cp.attrs = append([]groupedAttr{}, h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, groupedAttr{prefix: prefix, attr: a})
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) || key == "" {
		return segs
	}

	if a.Value.Kind() == slog.KindGroup {
		if parent != "" {
			key = parent + "." + key
		}
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, key)
		}
		return segs
	}

	full := prettyKey(key)
	if parent != "" {
		full = parent + "." + full
	}
	return append(segs, h.paint(ansiDim, full+"=")+h.prettyValue(key, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(v.String()), h.color)
	case "path":
		return h.paint(ansiCyan, v.String())
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(v.String(), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(v.String()), h.color)
	case "error", "err":
		return h.paint(ansiRed, quoteIfNeeded(valueToString(v)))
	}
	return quoteIfNeeded(valueToString(v))
}

// terminalWidth prefers RESTROOM_LOG_WIDTH, then COLUMNS. Values narrower
// than minLogWidth fall back to the default.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"RESTROOM_LOG_WIDTH", "COLUMNS"} {
		n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
		if err != nil {
			continue
		}
		if n >= minLogWidth {
			return n
		}
		return defaultLogWidth
	}
	return defaultLogWidth
}

func (h *prettyHandler) paint(code, s string) string {
	if !h.color {
		return s
	}
	return code + s + ansiReset
}

// wrapSegments packs segs into lines no wider than width. Lines after the
// first start with indent. A segment that cannot fit on its own line is
// truncated with an ellipsis.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0

	for _, seg := range segs {
		prefix := ""
		if len(lines) > 0 {
			prefix = indent
		}
		segLen := visualLen(seg)

		if curLen > 0 && curLen+visualLen(sep)+segLen <= width {
			cur.WriteString(sep)
			cur.WriteString(seg)
			curLen += visualLen(sep) + segLen
			continue
		}
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			prefix = indent
		}

		room := width - visualLen(prefix)
		if segLen > room {
			seg = truncateVisual(seg, room)
			segLen = visualLen(seg)
		}
		cur.WriteString(prefix)
		cur.WriteString(seg)
		curLen = visualLen(prefix) + segLen
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func truncateVisual(s string, width int) string {
	plain := []rune(stripANSI(s))
	if width <= 1 {
		return "…"
	}
	if len(plain) <= width {
		return string(plain)
	}
	return string(plain[:width-1]) + "…"
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func prettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "took"
	default:
		return k
	}
}

func levelTag(level slog.Level, color bool) string {
	tag, code := "INFO ", ansiBlue
	switch {
	case level >= slog.LevelError:
		tag, code = "ERROR", ansiRed
	case level >= slog.LevelWarn:
		tag, code = "WARN ", ansiYellow
	case level < slog.LevelInfo:
		tag, code = "DEBUG", ansiMagenta
	}
	if !color {
		return tag
	}
	return code + tag + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	if !color {
		return m
	}
	switch m {
	case "GET", "HEAD":
		return ansiGreen + m + ansiReset
	case "POST":
		return ansiBlue + m + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + m + ansiReset
	case "DELETE":
		return ansiRed + m + ansiReset
	default:
		return ansiMagenta + m + ansiReset
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	return statusColor(code) + s + ansiReset
}

func colorizeStatusClass(class string, color bool) string {
	if !color || class == "" {
		return class
	}
	code := 0
	if class[0] >= '1' && class[0] <= '5' {
		code = int(class[0]-'0') * 100
	}
	return statusColor(code) + class + ansiReset
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success":
		return ansiGreen + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	case "server_error":
		return ansiRed + result + ansiReset
	default:
		return ansiCyan + result + ansiReset
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
