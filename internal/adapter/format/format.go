// Package format renders security events into SIEM wire formats.
// Encoders are pure: the same event always produces the same line.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	Vendor  = "Nexora"
	Product = "AED Platform"
	Version = "1.0"
)

// Format names a wire format.
type Format string

const (
	FormatCEF    Format = "cef"
	FormatLEEF   Format = "leef"
	FormatSyslog Format = "syslog"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCEF, FormatLEEF, FormatSyslog:
		return f, nil
	}
	return "", fmt.Errorf("unknown event format %q", s)
}

// New returns the encoder for f. The syslog options are ignored by CEF and LEEF.
func New(f Format, opts SyslogOptions) (domain.Encoder, error) {
	switch f {
	case FormatCEF:
		return CEFEncoder{}, nil
	case FormatLEEF:
		return LEEFEncoder{}, nil
	case FormatSyslog:
		return NewSyslogEncoder(opts), nil
	}
	return nil, fmt.Errorf("unknown event format %q", f)
}

func formatRisk(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

func join(values []string) string {
	return strings.Join(values, ",")
}
