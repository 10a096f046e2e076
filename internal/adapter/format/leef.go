package format

import (
	"strconv"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	leefTimeLayout = "2006-01-02T15:04:05.000Z07:00"
	// leefTimeFormat is leefTimeLayout in the Java pattern QRadar expects.
	leefTimeFormat = "yyyy-MM-dd'T'HH:mm:ss.SSSXXX"
)

var leefSeverity = map[domain.Severity]int{
	domain.SeverityLow:      1,
	domain.SeverityMedium:   5,
	domain.SeverityHigh:     8,
	domain.SeverityCritical: 10,
}

// LEEFSeverity returns the QRadar severity for s. Unmapped severities get 5.
func LEEFSeverity(s domain.Severity) int {
	if v, ok := leefSeverity[s]; ok {
		return v
	}
	return 5
}

// LEEFEncoder renders events in IBM QRadar Log Event Extended Format 2.0.
type LEEFEncoder struct{}

// Encode implements domain.Encoder.
func (LEEFEncoder) Encode(e domain.SecurityEvent) string {
	header := strings.Join([]string{
		"LEEF:2.0",
		leefHeaderField(Vendor),
		leefHeaderField(Product),
		leefHeaderField(Version),
		leefHeaderField(e.EventType),
	}, "|")

	var attrs []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		attrs = append(attrs, key+"="+SanitizeLEEF(value))
	}

	add("devTime", e.Timestamp.UTC().Format(leefTimeLayout))
	add("devTimeFormat", leefTimeFormat)
	add("sev", strconv.Itoa(LEEFSeverity(e.Severity)))
	add("cat", e.Category)
	add("src", e.SourceIP)
	add("dst", e.DestinationIP)
	add("usrName", e.User)
	add("identityId", e.IdentityID)
	add("identityName", e.IdentityName)
	add("orgId", e.OrganizationID)
	add("externalId", e.ID)
	add("title", e.Title)
	add("msg", e.Description)
	add("mitreTactics", join(e.MitreTactics))
	add("mitreTechniques", join(e.MitreTechniques))
	add("indicators", join(e.Indicators))
	add("riskScore", formatRisk(e.RiskScore))

	return header + "|" + strings.Join(attrs, "\t")
}

// SanitizeLEEF replaces the attribute delimiter and line breaks with a space.
func SanitizeLEEF(s string) string {
	return leefReplacer.Replace(s)
}

var leefReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// leefHeaderField also removes the header delimiter.
func leefHeaderField(s string) string {
	return strings.ReplaceAll(SanitizeLEEF(s), "|", "_")
}
