package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

var (
	severities = []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow}
	eventTypes = []string{"credential_exposed", "threat_detected", "policy_violation", "data_exfiltration", "anomalous_login"}
)

func main() {
	targetURL := flag.String("url", "http://localhost:8080/v1/events", "Target URL for ingestion")
	apiKey := flag.String("api-key", "supersecretkey", "API Key for authentication")
	token := flag.String("token", "", "Bearer service token (overrides -api-key)")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	batch := flag.Int("batch", 1, "Events per request; values above 1 send NDJSON")
	orgs := flag.Int("orgs", 5, "Number of synthetic organizations")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batch)

	var wg sync.WaitGroup
	var successCount, errorCount, eventCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 15 * time.Second,
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				body, contentType, err := buildBody(workerID, *batch, *orgs)
				if err != nil {
					log.Printf("worker %d: %v", workerID, err)
					return
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(body))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", contentType)
				if *token != "" {
					req.Header.Set("Authorization", "Bearer "+*token)
				} else {
					req.Header.Set("X-API-Key", *apiKey)
				}

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}

				if resp.StatusCode == http.StatusAccepted {
					successCount.Add(1)
					eventCount.Add(int64(*batch))
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Events Accepted: %d", eventCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

func buildBody(workerID, batch, orgs int) ([]byte, string, error) {
	if batch <= 1 {
		data, err := json.Marshal(syntheticEvent(workerID, orgs))
		return data, "application/json", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < batch; i++ {
		if err := enc.Encode(syntheticEvent(workerID, orgs)); err != nil {
			return nil, "", err
		}
	}
	return buf.Bytes(), "application/x-ndjson", nil
}

func syntheticEvent(workerID, orgs int) domain.SecurityEvent {
	risk := rand.Float64() * 100
	return domain.SecurityEvent{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Severity:       severities[rand.Intn(len(severities))],
		Category:       "load_test",
		EventType:      eventTypes[rand.Intn(len(eventTypes))],
		Source:         "load-tester",
		SourceIP:       fmt.Sprintf("10.0.%d.%d", workerID%256, rand.Intn(256)),
		OrganizationID: fmt.Sprintf("org-%d", rand.Intn(max(orgs, 1))),
		Title:          fmt.Sprintf("Load test event from worker %d", workerID),
		Description:    "synthetic security event",
		RawData:        map[string]any{"worker": workerID, "email": "loadtest@example.com"},
		RiskScore:      &risk,
	}
}
