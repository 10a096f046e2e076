package connector

import (
	"time"

	"github.com/V4T54L/siem-forwarder/internal/adapter/format"
	"github.com/V4T54L/siem-forwarder/internal/domain"
)

// eventDocument is the JSON projection of a security event shared by the
// HTTP and Kafka connectors.
type eventDocument struct {
	ID              string         `json:"id"`
	Timestamp       string         `json:"timestamp"`
	Severity        string         `json:"severity"`
	SeverityScore   int            `json:"severity_score"`
	Category        string         `json:"category"`
	EventType       string         `json:"event_type"`
	Source          string         `json:"source"`
	SourceIP        string         `json:"source_ip,omitempty"`
	DestinationIP   string         `json:"destination_ip,omitempty"`
	User            string         `json:"user,omitempty"`
	IdentityID      string         `json:"identity_id,omitempty"`
	IdentityName    string         `json:"identity_name,omitempty"`
	OrganizationID  string         `json:"organization_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	RawData         map[string]any `json:"raw_data,omitempty"`
	MitreTactics    []string       `json:"mitre_tactics,omitempty"`
	MitreTechniques []string       `json:"mitre_techniques,omitempty"`
	Indicators      []string       `json:"indicators,omitempty"`
	RiskScore       *float64       `json:"risk_score,omitempty"`
	Vendor          string         `json:"vendor"`
	Product         string         `json:"product"`
}

func newEventDocument(e domain.SecurityEvent) eventDocument {
	return eventDocument{
		ID:              e.ID,
		Timestamp:       e.Timestamp.UTC().Format(time.RFC3339Nano),
		Severity:        string(e.Severity),
		SeverityScore:   format.CEFSeverity(e.Severity),
		Category:        e.Category,
		EventType:       e.EventType,
		Source:          e.Source,
		SourceIP:        e.SourceIP,
		DestinationIP:   e.DestinationIP,
		User:            e.User,
		IdentityID:      e.IdentityID,
		IdentityName:    e.IdentityName,
		OrganizationID:  e.OrganizationID,
		Title:           e.Title,
		Description:     e.Description,
		RawData:         e.RawData,
		MitreTactics:    e.MitreTactics,
		MitreTechniques: e.MitreTechniques,
		Indicators:      e.Indicators,
		RiskScore:       e.RiskScore,
		Vendor:          format.Vendor,
		Product:         format.Product,
	}
}
