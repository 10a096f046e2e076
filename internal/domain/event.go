package domain

import (
	"fmt"
	"time"
)

// GlobalOrganization is the organization id used for cross-tenant broadcasts.
const GlobalOrganization = "global"

// MaxBufferedEvents is the hard cap on events held by the forwarder between flushes.
const MaxBufferedEvents = 1000

// Severity is the criticality of a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is one of the four known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SecurityEvent is the canonical record handed to the forwarder by producers.
// It is passed by value and must not be modified once submitted.
type SecurityEvent struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Severity        Severity       `json:"severity"`
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
}

// Validate checks the invariants every event must satisfy before it is buffered.
func (e SecurityEvent) Validate() error {
	if e.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidEvent)
	}
	if !e.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, e.Severity)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	return nil
}

// HasMitre reports whether the event carries any MITRE ATT&CK annotations.
func (e SecurityEvent) HasMitre() bool {
	return len(e.MitreTactics) > 0 || len(e.MitreTechniques) > 0
}
