package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

const (
	// HECBatchSize is the number of events per HEC request.
	HECBatchSize = 100

	splunkName              = "splunk"
	defaultSplunkSource     = "nexora-aed"
	defaultSplunkSourceType = "nexora:security"
)

func init() {
	Register(splunkName, func(cfg *config.Config, deps Dependencies) (domain.Sink, error) {
		if !cfg.Splunk.Enabled {
			return nil, nil
		}
		return NewSplunkHEC(cfg.Splunk, deps.HTTP, deps.Logger), nil
	})
}

// hecEnvelope is one line of an HEC event batch.
type hecEnvelope struct {
	Time       float64       `json:"time"`
	Host       string        `json:"host,omitempty"`
	Source     string        `json:"source"`
	SourceType string        `json:"sourcetype"`
	Index      string        `json:"index,omitempty"`
	Event      eventDocument `json:"event"`
}

// SplunkHEC delivers events to a Splunk HTTP Event Collector in batches.
// A failed request fails its whole batch; there is no per-event status.
type SplunkHEC struct {
	url        string
	token      string
	index      string
	sourceType string
	host       string
	compress   bool
	client     *HTTPClient
	logger     *slog.Logger
}

// NewSplunkHEC creates an HEC connector.
func NewSplunkHEC(cfg config.SplunkConfig, client *HTTPClient, logger *slog.Logger) *SplunkHEC {
	host, _ := os.Hostname()
	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = defaultSplunkSourceType
	}
	return &SplunkHEC{
		url:        cfg.URL,
		token:      cfg.Token,
		index:      cfg.Index,
		sourceType: sourceType,
		host:       host,
		compress:   cfg.Gzip,
		client:     client,
		logger:     logger.With("component", "splunk_hec"),
	}
}

func (s *SplunkHEC) Name() string { return splunkName }

func (s *SplunkHEC) IsConfigured() bool {
	return s.url != "" && s.token != ""
}

// Deliver splits events into batches of HECBatchSize and posts each batch.
func (s *SplunkHEC) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if !s.IsConfigured() {
		return domain.NotConfiguredResult(len(events), splunkName)
	}

	result := domain.Result{Success: true}
	for start := 0; start < len(events); start += HECBatchSize {
		end := min(start+HECBatchSize, len(events))
		batch := events[start:end]

		if err := s.sendBatch(ctx, batch); err != nil {
			terr := &domain.TransportError{Sink: splunkName, Op: fmt.Sprintf("batch %d", start/HECBatchSize), Err: err}
			s.logger.Warn("HEC batch failed", "batch_size", len(batch), "error", err)
			result.Add(domain.FailedResult(len(batch), terr))
			continue
		}
		result.Add(domain.SuccessResult(len(batch)))
	}
	return result
}

func (s *SplunkHEC) sendBatch(ctx context.Context, batch []domain.SecurityEvent) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range batch {
		env := hecEnvelope{
			Time:       float64(e.Timestamp.UnixMilli()) / 1000,
			Host:       s.host,
			Source:     defaultSplunkSource,
			SourceType: s.sourceType,
			Index:      s.index,
			Event:      newEventDocument(e),
		}
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
	}

	req, err := newRequest(ctx, s.url, "application/json", body.Bytes(), s.compress)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return statusError(resp)
	}
	return nil
}
