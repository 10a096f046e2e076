package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

const elasticName = "elastic"

func init() {
	Register(elasticName, func(cfg *config.Config, deps Dependencies) (domain.Sink, error) {
		if !cfg.Elastic.Enabled {
			return nil, nil
		}
		return NewElasticBulk(cfg.Elastic, deps.HTTP, deps.Logger), nil
	})
}

type bulkAction struct {
	Index bulkActionMeta `json:"index"`
}

type bulkActionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// ElasticBulk indexes events with the _bulk API. Unlike the other HTTP
// connectors it reports per-event outcomes from the item statuses.
type ElasticBulk struct {
	bulkURL  string
	index    string
	apiKey   string
	username string
	password string
	client   *HTTPClient
	logger   *slog.Logger
}

func NewElasticBulk(cfg config.ElasticConfig, client *HTTPClient, logger *slog.Logger) *ElasticBulk {
	var bulkURL string
	if cfg.URL != "" {
		bulkURL = strings.TrimRight(cfg.URL, "/") + "/_bulk"
	}
	return &ElasticBulk{
		bulkURL:  bulkURL,
		index:    cfg.Index,
		apiKey:   cfg.APIKey,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		logger:   logger.With("component", "elastic_bulk"),
	}
}

func (e *ElasticBulk) Name() string { return elasticName }

func (e *ElasticBulk) IsConfigured() bool {
	if e.bulkURL == "" || e.index == "" {
		return false
	}
	return e.apiKey != "" || (e.username != "" && e.password != "")
}

func (e *ElasticBulk) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if !e.IsConfigured() {
		return domain.NotConfiguredResult(len(events), elasticName)
	}
	if len(events) == 0 {
		return domain.SuccessResult(0)
	}

	resp, err := e.send(ctx, events)
	if err != nil {
		e.logger.Warn("bulk request failed", "events", len(events), "error", err)
		return domain.FailedResult(len(events), &domain.TransportError{Sink: elasticName, Op: "bulk", Err: err})
	}

	return e.itemResults(events, resp)
}

func (e *ElasticBulk) send(ctx context.Context, events []domain.SecurityEvent) (*bulkResponse, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		if err := enc.Encode(bulkAction{Index: bulkActionMeta{Index: e.index, ID: ev.ID}}); err != nil {
			return nil, fmt.Errorf("encode action: %w", err)
		}
		if err := enc.Encode(newEventDocument(ev)); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", ev.ID, err)
		}
	}

	req, err := newRequest(ctx, e.bulkURL, "application/x-ndjson", body.Bytes(), false)
	if err != nil {
		return nil, err
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+e.apiKey)
	} else {
		req.SetBasicAuth(e.username, e.password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}
	var parsed bulkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &parsed, nil
}

// itemResults maps each item status back to its event. Items missing from
// the response are counted as failed.
func (e *ElasticBulk) itemResults(events []domain.SecurityEvent, resp *bulkResponse) domain.Result {
	result := domain.Result{}
	var failed int
	for i, ev := range events {
		if i >= len(resp.Items) {
			failed++
			result.Errors = append(result.Errors, fmt.Sprintf("event %s: missing from bulk response", ev.ID))
			continue
		}
		var status int
		var reason string
		for _, item := range resp.Items[i] {
			status = item.Status
			if item.Error != nil {
				reason = item.Error.Type + ": " + item.Error.Reason
			}
		}
		if status >= 400 {
			failed++
			if reason == "" {
				reason = fmt.Sprintf("status %d", status)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("event %s: %s", ev.ID, reason))
			continue
		}
		result.ProcessedCount++
	}
	result.FailedCount = failed
	result.Success = failed == 0

	if failed > 0 {
		err := &domain.PartialBatchError{Sink: elasticName, Failed: failed, Total: len(events)}
		e.logger.Warn("bulk items rejected", "error", err)
		result.Errors = append([]string{err.Error()}, result.Errors...)
	}
	return result
}
