package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Everforest-ish palette: muted, readable on dark terminals
const (
	colorTime      = "\x1b[38;5;107m"
	colorComponent = "\x1b[38;5;108m"
	colorPeer      = "\x1b[38;5;109m"
	colorKey       = "\x1b[38;5;245m"
	colorWarn      = "\x1b[38;5;179m"
	colorWarnBg    = "\x1b[48;5;58m"
	colorError     = "\x1b[38;5;167m"
	colorErrorBg   = "\x1b[48;5;52m"
)

var bufferPool = buffer.NewPool()

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  WARN  s.poll  Poll round failed  peer=127.0.0.1:4095 error=..."
//
// Context fields added through With() are kept in the embedded map encoder and
// printed before the entry's own fields. No field is ever dropped.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return &minimalEncoder{MapObjectEncoder: clone}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only show for WARN and above, and for DEBUG so -vv output is distinguishable
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(ent.Message)

	if rendered := renderFields(enc.Fields, fields); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN/ERROR
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorKey + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorWarnBg + colorWarn + "WARN" + colorReset
	default:
		return colorBold + colorErrorBg + colorError + level.CapitalString() + colorReset
	}
}

// abbreviateName shortens component names: server.peer -> s.peer
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// renderFields prints context fields (sorted) followed by entry fields (in call order)
func renderFields(context map[string]interface{}, fields []zapcore.Field) string {
	var parts []string

	contextKeys := make([]string, 0, len(context))
	for k := range context {
		contextKeys = append(contextKeys, k)
	}
	sort.Strings(contextKeys)
	for _, k := range contextKeys {
		parts = append(parts, renderPair(k, context[k]))
	}

	entry := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(entry)
	}
	for _, field := range fields {
		value, ok := entry.Fields[field.Key]
		if !ok {
			// zap.Skip and nil errors add nothing
			continue
		}
		parts = append(parts, renderPair(field.Key, value))
	}

	return strings.Join(parts, " ")
}

func renderPair(key string, value interface{}) string {
	valueColor := colorReset
	if key == FieldPeer || key == FieldAddress {
		valueColor = colorPeer
	}
	return colorKey + key + "=" + colorReset + valueColor + fmt.Sprint(value) + colorReset
}
