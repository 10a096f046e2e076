package pii

import (
	"log/slog"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks sensitive keys in the raw data attached to security events
// before they leave the platform.
type Redactor struct {
	fieldsToRedact map[string]struct{} // lower-cased for case-insensitive lookups
	logger         *slog.Logger
}

// NewRedactor creates a new Redactor instance with a given set of fields to redact.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		fieldSet[strings.ToLower(field)] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger,
	}
}

// Redact returns event with every matching RawData key, at any nesting depth,
// replaced by RedactedPlaceholder, along with the number of values masked.
// The input event is not modified.
func (r *Redactor) Redact(event domain.SecurityEvent) (domain.SecurityEvent, int) {
	if len(r.fieldsToRedact) == 0 || len(event.RawData) == 0 {
		return event, 0
	}

	data, n := r.redactMap(event.RawData)
	if n > 0 {
		event.RawData = data
		r.logger.Debug("redacted PII from raw data", "event_id", event.ID, "fields", n)
	}
	return event, n
}

func (r *Redactor) redactMap(in map[string]any) (map[string]any, int) {
	out := make(map[string]any, len(in))
	total := 0
	for k, v := range in {
		if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok {
			out[k] = RedactedPlaceholder
			total++
			continue
		}
		nv, n := r.redactValue(v)
		out[k] = nv
		total += n
	}
	return out, total
}

func (r *Redactor) redactValue(v any) (any, int) {
	switch val := v.(type) {
	case map[string]any:
		return r.redactMap(val)
	case []any:
		out := make([]any, len(val))
		total := 0
		for i, item := range val {
			nv, n := r.redactValue(item)
			out[i] = nv
			total += n
		}
		return out, total
	default:
		return v, 0
	}
}
