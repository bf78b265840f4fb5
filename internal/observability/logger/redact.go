package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[redacted]"

// piiKeys are field names that may carry a donor's contact details.
var piiKeys = map[string]struct{}{
	"email":        {},
	"donor_email":  {},
	"donor_name":   {},
	"contact_name": {},
	"name":         {},
	"phone":        {},
	"address":      {},
	"to":           {},
}

// Redact wraps core so fields under a PII key are replaced before encoding.
// Numeric fields pass through.
func Redact(core zapcore.Core) zapcore.Core {
	return redactCore{Core: core}
}

type redactCore struct {
	zapcore.Core
}

func (c redactCore) With(fields []zapcore.Field) zapcore.Core {
	return redactCore{Core: c.Core.With(scrub(fields))}
}

func (c redactCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c redactCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, scrub(fields))
}

func scrub(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if !isPII(f) {
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
		}
		out[i] = zap.String(f.Key, redacted)
	}
	if out == nil {
		return fields
	}
	return out
}

func isPII(f zapcore.Field) bool {
	switch f.Type {
	case zapcore.StringType, zapcore.StringerType, zapcore.ArrayMarshalerType, zapcore.ReflectType:
	default:
		return false
	}
	_, ok := piiKeys[strings.ToLower(f.Key)]
	return ok
}
