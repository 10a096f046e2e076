package format

import (
	"strconv"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const cefUnknownSignature = "999"

var cefSeverity = map[domain.Severity]int{
	domain.SeverityLow:      3,
	domain.SeverityMedium:   5,
	domain.SeverityHigh:     7,
	domain.SeverityCritical: 10,
}

// cefSignatures maps event types to ArcSight signature ids.
var cefSignatures = map[string]string{
	"threat_detected":        "100",
	"honeytoken_triggered":   "101",
	"malware_detected":       "102",
	"identity_anomaly":       "200",
	"credential_exposed":     "201",
	"privilege_escalation":   "202",
	"entity_morphing":        "203",
	"authentication_failure": "300",
	"mfa_bypass":             "301",
	"policy_violation":       "400",
	"compliance_drift":       "401",
	"data_exfiltration":      "500",
	"lateral_movement":       "501",
	"anomaly_detected":       "600",
	"connectivity_test":      "900",
}

// CEFSeverity returns the CEF severity numeral for s. Unmapped severities get 5.
func CEFSeverity(s domain.Severity) int {
	if v, ok := cefSeverity[s]; ok {
		return v
	}
	return 5
}

// CEFSignatureID returns the signature id for an event type, or 999.
func CEFSignatureID(eventType string) string {
	if id, ok := cefSignatures[eventType]; ok {
		return id
	}
	return cefUnknownSignature
}

// CEFEncoder renders events in ArcSight Common Event Format.
type CEFEncoder struct{}

// Encode implements domain.Encoder.
func (CEFEncoder) Encode(e domain.SecurityEvent) string {
	var b strings.Builder
	b.WriteString("CEF:0|")
	b.WriteString(escapeCEFHeader(Vendor))
	b.WriteByte('|')
	b.WriteString(escapeCEFHeader(Product))
	b.WriteByte('|')
	b.WriteString(escapeCEFHeader(Version))
	b.WriteByte('|')
	b.WriteString(CEFSignatureID(e.EventType))
	b.WriteByte('|')
	b.WriteString(escapeCEFHeader(e.Title))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(CEFSeverity(e.Severity)))
	b.WriteByte('|')
	b.WriteString(cefExtension(e))
	return b.String()
}

func cefExtension(e domain.SecurityEvent) string {
	var fields []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		fields = append(fields, key+"="+EscapeCEFValue(value))
	}
	custom := func(n int, label, value string) {
		if value == "" {
			return
		}
		idx := strconv.Itoa(n)
		fields = append(fields, "cs"+idx+"Label="+label, "cs"+idx+"="+EscapeCEFValue(value))
	}

	add("rt", strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	add("cat", e.Category)
	add("msg", e.Description)
	add("src", e.SourceIP)
	add("dst", e.DestinationIP)
	add("suser", e.User)
	custom(1, "organizationId", e.OrganizationID)
	custom(2, "identityId", e.IdentityID)
	custom(3, "identityName", e.IdentityName)
	custom(4, "mitreTactics", join(e.MitreTactics))
	custom(5, "mitreTechniques", join(e.MitreTechniques))
	custom(6, "riskScore", formatRisk(e.RiskScore))
	add("externalId", e.ID)
	add("deviceVendor", Vendor)
	add("deviceProduct", Product)

	return strings.Join(fields, " ")
}

// EscapeCEFValue escapes an extension value. Backslash goes first so the
// escapes added for the other characters are not escaped again.
func EscapeCEFValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "=", `\=`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}

// escapeCEFHeader escapes a header field, where '=' is legal but line breaks are not.
func escapeCEFHeader(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
