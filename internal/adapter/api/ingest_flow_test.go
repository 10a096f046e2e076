package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/adapter/connector"
	"github.com/V4T54L/siem-forwarder/internal/adapter/pii"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/domain/mocks"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
	"github.com/V4T54L/siem-forwarder/internal/usecase"
)

// hecRecorder is a fake Splunk HTTP Event Collector.
type hecRecorder struct {
	mu     sync.Mutex
	auth   []string
	events []map[string]any
}

func (h *hecRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auth = append(h.auth, r.Header.Get("Authorization"))
	for {
		var env map[string]any
		if err := dec.Decode(&env); err == io.EOF {
			break
		} else if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.events = append(h.events, env)
	}
	w.Write([]byte(`{"text":"Success","code":0}`))
}

func (h *hecRecorder) received() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, len(h.events))
	copy(out, h.events)
	return out
}

func TestIngestFlow_HTTPToSplunk(t *testing.T) {
	hec := &hecRecorder{}
	hecServer := httptest.NewServer(hec)
	defer hecServer.Close()

	logger := testLogger()
	client := connector.NewHTTPClient(connector.HTTPClientConfig{Timeout: 2 * time.Second}, logger)
	splunk := connector.NewSplunkHEC(config.SplunkConfig{URL: hecServer.URL, Token: "hec-token", Index: "security"}, client, logger)

	forwarder := usecase.NewForwarder([]domain.Sink{splunk}, usecase.ForwarderConfig{BatchSize: 2, FlushInterval: time.Hour}, logger)
	ingester := usecase.NewIngestEventUseCase(forwarder, pii.NewRedactor([]string{"email"}, logger), logger)

	cfg := &config.Config{MaxEventSize: 64 * 1024}
	repo := &mocks.MockAPIKeyRepository{Valid: map[string]bool{"producer-key": true}}
	ingestServer := httptest.NewServer(NewRouter(cfg, logger, repo, ingester, nil))
	defer ingestServer.Close()

	body := strings.Join([]string{
		`{"severity":"critical","event_type":"credential_exposed","organization_id":"org-1","title":"Creds Exposed","raw_data":{"email":"alice@example.com","repo":"infra"}}`,
		`{"severity":"medium","event_type":"policy_violation","organization_id":"org-2","title":"Policy"}`,
		`{"severity":"low","event_type":"login","organization_id":"org-3","title":"Buffered"}`,
	}, "\n")

	req, _ := http.NewRequest(http.MethodPost, ingestServer.URL+"/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("X-API-Key", "producer-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	// The batch size of 2 flushes synchronously inside the request.
	got := hec.received()
	if len(got) != 2 {
		t.Fatalf("expected 2 events at the HEC endpoint, got %d", len(got))
	}
	if forwarder.BufferLen() != 1 {
		t.Errorf("expected the third event to stay buffered, got %d", forwarder.BufferLen())
	}
	if hec.auth[0] != "Splunk hec-token" {
		t.Errorf("unexpected HEC auth header %q", hec.auth[0])
	}

	first := got[0]["event"].(map[string]any)
	raw := first["raw_data"].(map[string]any)
	if raw["email"] != pii.RedactedPlaceholder || raw["repo"] != "infra" {
		t.Errorf("expected email to be redacted before forwarding, got %v", raw)
	}
	if got[0]["index"] != "security" || first["severity"] != "critical" {
		t.Errorf("unexpected envelope: %v", got[0])
	}

	// Shutdown delivers what is left.
	result, err := forwarder.Shutdown(context.Background())
	if err != nil || result.ProcessedCount != 1 {
		t.Fatalf("expected final flush of 1 event, got %+v, %v", result, err)
	}
	if len(hec.received()) != 3 {
		t.Errorf("expected 3 events after shutdown, got %d", len(hec.received()))
	}
}
