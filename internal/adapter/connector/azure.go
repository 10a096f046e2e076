package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

const (
	azureName        = "azure"
	azureResource    = "/api/logs"
	azureContentType = "application/json"
	azureAPIVersion  = "2016-04-01"
	azureTimeField   = "timestamp"
)

func init() {
	Register(azureName, func(cfg *config.Config, deps Dependencies) (domain.Sink, error) {
		if !cfg.Azure.Enabled {
			return nil, nil
		}
		return NewAzureMonitor(cfg.Azure, deps.HTTP, deps.Logger), nil
	})
}

// AzureMonitor posts events to a Log Analytics workspace through the HTTP
// Data Collector API. Each Deliver is a single signed request whose outcome
// applies to every event in it.
type AzureMonitor struct {
	workspaceID string
	sharedKey   string
	logType     string
	endpoint    string
	client      *HTTPClient
	logger      *slog.Logger
	now         func() time.Time
}

// NewAzureMonitor creates a Data Collector connector. When cfg.Endpoint is
// empty the URL is derived from the workspace id.
func NewAzureMonitor(cfg config.AzureConfig, client *HTTPClient, logger *slog.Logger) *AzureMonitor {
	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.WorkspaceID != "" {
		endpoint = fmt.Sprintf("https://%s.ods.opinsights.azure.com%s?api-version=%s", cfg.WorkspaceID, azureResource, azureAPIVersion)
	}
	return &AzureMonitor{
		workspaceID: cfg.WorkspaceID,
		sharedKey:   cfg.SharedKey,
		logType:     cfg.LogType,
		endpoint:    endpoint,
		client:      client,
		logger:      logger.With("component", "azure_monitor"),
		now:         time.Now,
	}
}

func (a *AzureMonitor) Name() string { return azureName }

func (a *AzureMonitor) IsConfigured() bool {
	return a.workspaceID != "" && a.sharedKey != "" && a.endpoint != ""
}

func (a *AzureMonitor) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if !a.IsConfigured() {
		return domain.NotConfiguredResult(len(events), azureName)
	}
	if len(events) == 0 {
		return domain.SuccessResult(0)
	}

	if err := a.post(ctx, events); err != nil {
		a.logger.Warn("Data Collector request failed", "events", len(events), "error", err)
		return domain.FailedResult(len(events), &domain.TransportError{Sink: azureName, Op: "post", Err: err})
	}
	return domain.SuccessResult(len(events))
}

func (a *AzureMonitor) post(ctx context.Context, events []domain.SecurityEvent) error {
	docs := make([]eventDocument, len(events))
	for i, e := range events {
		docs[i] = newEventDocument(e)
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	date := a.now().UTC().Format(http.TimeFormat)
	signature, err := Signature(a.sharedKey, date, len(body))
	if err != nil {
		return err
	}

	req, err := newRequest(ctx, a.endpoint, azureContentType, body, false)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", a.workspaceID, signature))
	req.Header.Set("Log-Type", a.logType)
	req.Header.Set("x-ms-date", date)
	req.Header.Set("time-generated-field", azureTimeField)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return statusError(resp)
	}
	return nil
}

// Signature computes the SharedKey signature for a Data Collector POST.
// The canonical string is method, content length, content type, the
// x-ms-date header and the resource path, joined by newlines.
func Signature(sharedKey, date string, contentLength int) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedKey)
	if err != nil {
		return "", fmt.Errorf("decode shared key: %w", err)
	}

	stringToSign := http.MethodPost + "\n" +
		strconv.Itoa(contentLength) + "\n" +
		azureContentType + "\n" +
		"x-ms-date:" + date + "\n" +
		azureResource

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
