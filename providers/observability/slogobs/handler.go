package slogobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// redactedValue replaces the value of any attribute whose key looks secret.
const redactedValue = "[REDACTED]"

// defaultRedactKeys are matched case-insensitively as substrings of the
// attribute key.
var defaultRedactKeys = []string{"api_key", "apikey", "authorization", "secret", "password", "access_token", "refresh_token"}

// Handler is a slog.Handler writing compact, pretty or JSON lines.
// Handlers derived through WithAttrs and WithGroup share the parent's
// writer lock so lines never interleave.
type Handler struct {
	format     Format
	level      slog.Leveler
	output     io.Writer
	colors     bool
	redactKeys []string
	mu         *sync.Mutex
	attrs      []slog.Attr
	prefix     string
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Format Format
	// Level is the minimum level. A *slog.LevelVar allows changing it later.
	Level slog.Leveler
	// Output defaults to os.Stderr.
	Output io.Writer
	// Colors enables ANSI colors for compact and pretty output. When false
	// and Output is a terminal, colors are switched on automatically.
	Colors bool
	// RedactKeys extends the built-in list of secret key fragments.
	RedactKeys []string
}

// NewHandler creates a new Handler with the given options.
func NewHandler(opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	format := opts.Format
	if format == "" {
		format = FormatCompact
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	colors := opts.Colors
	if !colors && format != FormatJSON {
		if file, ok := output.(*os.File); ok {
			colors = isTerminal(file)
		}
	}

	redact := make([]string, 0, len(defaultRedactKeys)+len(opts.RedactKeys))
	for _, key := range append(append([]string{}, defaultRedactKeys...), opts.RedactKeys...) {
		redact = append(redact, strings.ToLower(key))
	}

	return &Handler{
		format:     format,
		level:      level,
		output:     output,
		colors:     colors,
		redactKeys: redact,
		mu:         &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	fields := h.collect(r)

	var line []byte
	var err error
	switch h.format {
	case FormatJSON:
		line, err = h.formatJSON(r, fields)
	case FormatPretty:
		line = h.formatPretty(r, fields)
	default:
		line = h.formatCompact(r, fields)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.output.Write(line)
	return err
}

// WithAttrs returns a new Handler with additional attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.prefix + attr.Key
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

// WithGroup returns a new Handler whose later attributes are prefixed with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

type field struct {
	key   string
	value any
}

// collect flattens handler and record attributes into key-sorted fields,
// expanding nested groups into dotted keys and masking secrets.
func (h *Handler) collect(r slog.Record) []field {
	fields := make([]field, 0, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		fields = h.appendAttr(fields, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		fields = h.appendAttr(fields, h.prefix, attr)
		return true
	})
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
	return fields
}

func (h *Handler) appendAttr(fields []field, prefix string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return fields
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, nested := range attr.Value.Group() {
			fields = h.appendAttr(fields, groupPrefix, nested)
		}
		return fields
	}

	key := prefix + attr.Key
	var value any = attr.Value.Any()
	if h.isSecret(key) {
		value = redactedValue
	} else if err, ok := value.(error); ok {
		value = err.Error()
	}
	return append(fields, field{key: key, value: value})
}

func (h *Handler) isSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range h.redactKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func (h *Handler) formatCompact(r slog.Record, fields []field) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format("2006-01-02 15:04:05")...)
	buf = append(buf, ' ')
	buf = h.appendLevel(buf, r.Level, true)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	if len(fields) > 0 {
		buf = append(buf, " -> "...)
		buf = appendJSONObject(buf, fields)
	}
	return append(buf, '\n')
}

func (h *Handler) formatPretty(r slog.Record, fields []field) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = append(buf, r.Time.Format("2006-01-02 15:04:05")...)
	buf = append(buf, "] "...)
	buf = h.appendLevel(buf, r.Level, false)
	buf = append(buf, " | "...)
	buf = append(buf, r.Message...)
	buf = append(buf, '\n')

	for _, f := range fields {
		buf = append(buf, "    "...)
		buf = append(buf, f.key...)
		buf = append(buf, " = "...)
		buf = append(buf, fmt.Sprintf("%v", f.value)...)
		buf = append(buf, '\n')
	}
	return buf
}

func (h *Handler) formatJSON(r slog.Record, fields []field) ([]byte, error) {
	data := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		data[f.key] = f.value
	}
	data["time"] = r.Time.Format("2006-01-02T15:04:05.000Z07:00")
	data["level"] = levelString(r.Level)
	data["msg"] = r.Message

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding log record: %w", err)
	}
	return append(encoded, '\n'), nil
}

func (h *Handler) appendLevel(buf []byte, level slog.Level, pad bool) []byte {
	name := levelString(level)
	if pad {
		name = fmt.Sprintf("%5s", name)
	}
	if !h.colors {
		return append(buf, name...)
	}
	buf = append(buf, colorForLevel(level)...)
	buf = append(buf, name...)
	return append(buf, colorReset...)
}

// appendJSONObject encodes fields as an object in their sorted order.
// Values that cannot be encoded fall back to their %v rendering.
func appendJSONObject(buf []byte, fields []field) []byte {
	buf = append(buf, '{')
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(f.key)
		buf = append(buf, key...)
		buf = append(buf, ':')
		value, err := json.Marshal(f.value)
		if err != nil {
			value, _ = json.Marshal(fmt.Sprintf("%v", f.value))
		}
		buf = append(buf, value...)
	}
	return append(buf, '}')
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func colorForLevel(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return colorGray
	case level < slog.LevelInfo:
		return colorBlue
	case level < slog.LevelWarn:
		return colorGreen
	case level < slog.LevelError:
		return colorYellow
	default:
		return colorRed
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
