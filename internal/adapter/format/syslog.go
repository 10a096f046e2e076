package format

import (
	"os"
	"strconv"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	// DefaultFacility is security/authorization messages (authpriv).
	DefaultFacility = 10
	DefaultAppName  = "nexora-aed"

	syslogTimeLayout = "2006-01-02T15:04:05.000Z07:00"
	maxMsgIDLen      = 32
	nilValue         = "-"
)

var syslogSeverity = map[domain.Severity]int{
	domain.SeverityCritical: 2,
	domain.SeverityHigh:     3,
	domain.SeverityMedium:   4,
	domain.SeverityLow:      6,
}

// SyslogSeverity returns the RFC 5424 severity code for s. Unmapped severities get 5 (notice).
func SyslogSeverity(s domain.Severity) int {
	if v, ok := syslogSeverity[s]; ok {
		return v
	}
	return 5
}

// SyslogOptions configures the RFC 5424 header fields.
type SyslogOptions struct {
	Facility int
	Hostname string
	AppName  string
	ProcID   string
}

// SyslogEncoder renders events as RFC 5424 messages.
type SyslogEncoder struct {
	opts SyslogOptions
}

// NewSyslogEncoder fills unset options from the process environment.
func NewSyslogEncoder(opts SyslogOptions) SyslogEncoder {
	if opts.Facility <= 0 || opts.Facility > 23 {
		opts.Facility = DefaultFacility
	}
	if opts.Hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			opts.Hostname = h
		} else {
			opts.Hostname = nilValue
		}
	}
	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}
	if opts.ProcID == "" {
		opts.ProcID = strconv.Itoa(os.Getpid())
	}
	return SyslogEncoder{opts: opts}
}

// Priority returns facility*8 + severity for s.
func (enc SyslogEncoder) Priority(s domain.Severity) int {
	return enc.opts.Facility*8 + SyslogSeverity(s)
}

// Encode implements domain.Encoder.
func (enc SyslogEncoder) Encode(e domain.SecurityEvent) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(strconv.Itoa(enc.Priority(e.Severity)))
	b.WriteString(">1 ")
	b.WriteString(e.Timestamp.UTC().Format(syslogTimeLayout))
	b.WriteByte(' ')
	b.WriteString(headerToken(enc.opts.Hostname, 255))
	b.WriteByte(' ')
	b.WriteString(headerToken(enc.opts.AppName, 48))
	b.WriteByte(' ')
	b.WriteString(headerToken(enc.opts.ProcID, 128))
	b.WriteByte(' ')
	b.WriteString(headerToken(e.EventType, maxMsgIDLen))
	b.WriteByte(' ')
	b.WriteString(structuredData(e))
	b.WriteByte(' ')
	b.WriteString(msgReplacer.Replace(e.Title))
	b.WriteString(": ")
	b.WriteString(msgReplacer.Replace(e.Description))
	return b.String()
}

// structuredData builds the SD section. The mitre element is appended
// directly after the nexora element with no separator between the blocks.
func structuredData(e domain.SecurityEvent) string {
	var b strings.Builder
	b.WriteString("[nexora@52000")
	param(&b, "id", e.ID)
	param(&b, "cat", e.Category)
	param(&b, "sev", string(e.Severity))
	param(&b, "org", e.OrganizationID)
	optionalParam(&b, "src", e.SourceIP)
	optionalParam(&b, "dst", e.DestinationIP)
	optionalParam(&b, "user", e.User)
	optionalParam(&b, "risk", formatRisk(e.RiskScore))
	b.WriteByte(']')

	if e.HasMitre() {
		b.WriteString("[mitre@52000")
		param(&b, "tactics", join(e.MitreTactics))
		param(&b, "techniques", join(e.MitreTechniques))
		b.WriteByte(']')
	}
	return b.String()
}

func param(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(sdParamReplacer.Replace(value))
	b.WriteByte('"')
}

func optionalParam(b *strings.Builder, name, value string) {
	if value != "" {
		param(b, name, value)
	}
}

var sdParamReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`, "\n", " ", "\r", " ")

// msgReplacer keeps MSG on one line; stream transports frame records by newline.
var msgReplacer = strings.NewReplacer("\n", " ", "\r", " ")

// headerToken makes s a valid RFC 5424 header field: printable ASCII without
// spaces, truncated to max, or the nil value when empty.
func headerToken(s string, max int) string {
	out := strings.Map(func(r rune) rune {
		if r < 33 || r > 126 {
			return -1
		}
		return r
	}, s)
	if len(out) > max {
		out = out[:max]
	}
	if out == "" {
		return nilValue
	}
	return out
}
