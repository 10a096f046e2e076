package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/domain/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEvent(i int) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:             fmt.Sprintf("evt-%d", i),
		Timestamp:      time.Now().UTC(),
		Severity:       domain.SeverityMedium,
		Category:       "threat",
		EventType:      "threat_detected",
		Source:         "detector",
		OrganizationID: "org-1",
		Title:          "Suspicious login",
		Description:    "login from unusual location",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestForwarder_SubmitTriggersSynchronousFlush(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "siem"}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 3, FlushInterval: 100 * time.Second}, discardLogger())
	f.Start(context.Background())
	defer f.Shutdown(context.Background())

	ctx := context.Background()
	f.Submit(ctx, newEvent(1))
	f.Submit(ctx, newEvent(2))
	if sink.CallCount() != 0 {
		t.Fatalf("expected no flush below the threshold, got %d calls", sink.CallCount())
	}

	f.Submit(ctx, newEvent(3))

	// Submit returns only after the threshold flush has completed.
	if sink.CallCount() != 1 {
		t.Fatalf("expected exactly one synchronous flush, got %d", sink.CallCount())
	}
	delivered := sink.DeliveredEvents()
	if len(delivered) != 3 {
		t.Fatalf("expected 3 delivered events, got %d", len(delivered))
	}
	for i, e := range delivered {
		if e.ID != fmt.Sprintf("evt-%d", i+1) {
			t.Errorf("delivery out of order at %d: %s", i, e.ID)
		}
	}
	if f.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", f.BufferLen())
	}
}

func TestForwarder_AggregatesAcrossSinks(t *testing.T) {
	ok := &mocks.MockSink{SinkName: "ok"}
	bad := &mocks.MockSink{SinkName: "bad", Fail: true, FailErr: "connection refused"}
	f := NewForwarder([]domain.Sink{ok, bad}, ForwarderConfig{BatchSize: 10, FlushInterval: time.Hour}, discardLogger())

	for i := 0; i < 4; i++ {
		f.Submit(context.Background(), newEvent(i))
	}
	res := f.Flush(context.Background())

	if res.Success {
		t.Error("expected aggregate success=false when one sink fails")
	}
	if res.ProcessedCount != 4 {
		t.Errorf("expected processed=4 from the healthy sink, got %d", res.ProcessedCount)
	}
	if res.FailedCount != 4 {
		t.Errorf("expected failed=4 from the failing sink, got %d", res.FailedCount)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "connection refused" {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	if f.BufferLen() != 0 {
		t.Errorf("partial failure must not re-buffer, got %d buffered", f.BufferLen())
	}

	report := <-f.Reports()
	if report.Trigger != domain.TriggerManual || report.BatchSize != 4 || report.Requeued != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Sinks["bad"].FailedCount != 4 || report.Sinks["ok"].ProcessedCount != 4 {
		t.Errorf("unexpected per-sink results: %+v", report.Sinks)
	}
}

func TestForwarder_CountsAreDeliveryAttempts(t *testing.T) {
	sinks := []domain.Sink{&mocks.MockSink{SinkName: "a"}, &mocks.MockSink{SinkName: "b"}, &mocks.MockSink{SinkName: "c"}}
	f := NewForwarder(sinks, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger())

	f.Submit(context.Background(), newEvent(1))
	res := f.Flush(context.Background())

	if !res.Success || res.ProcessedCount != 3 || res.FailedCount != 0 {
		t.Errorf("expected one event counted once per sink, got %+v", res)
	}
}

func TestForwarder_TotalFailureRequeuesAtFront(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "down", Fail: true}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger())

	for i := 0; i < 5; i++ {
		f.Submit(context.Background(), newEvent(i))
	}
	res := f.Flush(context.Background())
	if res.Success || res.FailedCount != 5 {
		t.Fatalf("expected total failure, got %+v", res)
	}
	if f.BufferLen() != 5 {
		t.Fatalf("expected the batch to be re-buffered, got %d", f.BufferLen())
	}

	f.Submit(context.Background(), newEvent(99))
	sink.Fail = false
	f.Flush(context.Background())

	delivered := sink.DeliveredEvents()
	if len(delivered) != 6 {
		t.Fatalf("expected 6 delivered events, got %d", len(delivered))
	}
	if delivered[0].ID != "evt-0" || delivered[5].ID != "evt-99" {
		t.Errorf("re-buffered events must precede newer ones: first=%s last=%s", delivered[0].ID, delivered[5].ID)
	}

	report1 := <-f.Reports()
	if report1.Requeued != 5 || report1.Dropped != 0 {
		t.Errorf("unexpected report for failed flush: %+v", report1)
	}
}

func TestForwarder_BufferNeverExceedsCap(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "down", Fail: true}
	archive := &mocks.MockDropArchive{}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger(), WithDropArchive(archive))

	const total = 1300
	for i := 0; i < total; i++ {
		f.Submit(context.Background(), newEvent(i))
		if n := f.BufferLen(); n > domain.MaxBufferedEvents {
			t.Fatalf("buffer exceeded cap: %d after %d submits", n, i+1)
		}
	}

	if f.BufferLen() != domain.MaxBufferedEvents {
		t.Fatalf("expected buffer to settle at the cap, got %d", f.BufferLen())
	}
	if got := f.DroppedEvents(); got != total-domain.MaxBufferedEvents {
		t.Errorf("expected %d dropped events, got %d", total-domain.MaxBufferedEvents, got)
	}
	if archive.Count() != total-domain.MaxBufferedEvents {
		t.Errorf("expected dropped events to be archived, got %d", archive.Count())
	}

	// The oldest events are the ones lost.
	sink.Fail = false
	f.Flush(context.Background())
	delivered := sink.DeliveredEvents()
	if len(delivered) != domain.MaxBufferedEvents {
		t.Fatalf("expected %d delivered, got %d", domain.MaxBufferedEvents, len(delivered))
	}
	if delivered[0].ID != "evt-300" || delivered[len(delivered)-1].ID != "evt-1299" {
		t.Errorf("expected the newest events to survive, got %s..%s", delivered[0].ID, delivered[len(delivered)-1].ID)
	}
}

func TestForwarder_RequeueKeepsNewestWithinRoom(t *testing.T) {
	f := NewForwarder(nil, ForwarderConfig{}, discardLogger())
	for i := 0; i < 900; i++ {
		f.buffer = append(f.buffer, newEvent(10000+i))
	}

	batch := make([]domain.SecurityEvent, 300)
	for i := range batch {
		batch[i] = newEvent(i)
	}
	requeued, dropped := f.requeue(batch)

	if requeued != 100 || len(dropped) != 200 {
		t.Fatalf("expected 100 requeued and 200 dropped, got %d and %d", requeued, len(dropped))
	}
	if f.BufferLen() != domain.MaxBufferedEvents {
		t.Errorf("expected buffer at cap, got %d", f.BufferLen())
	}
	if f.buffer[0].ID != "evt-200" || f.buffer[99].ID != "evt-299" || f.buffer[100].ID != "evt-10000" {
		t.Errorf("unexpected buffer front: %s %s %s", f.buffer[0].ID, f.buffer[99].ID, f.buffer[100].ID)
	}
	if dropped[0].ID != "evt-0" {
		t.Errorf("expected the oldest events to be dropped, got %s first", dropped[0].ID)
	}

	full := NewForwarder(nil, ForwarderConfig{}, discardLogger())
	for i := 0; i < domain.MaxBufferedEvents; i++ {
		full.buffer = append(full.buffer, newEvent(i))
	}
	if n, d := full.requeue(batch); n != 0 || len(d) != len(batch) {
		t.Errorf("expected everything dropped into a full buffer, got %d requeued", n)
	}
}

func TestForwarder_FlushesAreMutuallyExclusive(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	sink := &mocks.MockSink{SinkName: "slow"}
	sink.DeliverFunc = func(ctx context.Context, events []domain.SecurityEvent) domain.Result {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return domain.SuccessResult(len(events))
	}

	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 5, FlushInterval: time.Millisecond}, discardLogger())
	f.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f.Submit(context.Background(), newEvent(g*1000+i))
			}
		}(g)
	}
	wg.Wait()
	if _, err := f.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("expected flushes to never overlap, saw %d concurrent deliveries", got)
	}
	if f.BufferLen() != 0 {
		t.Errorf("expected everything flushed, %d left", f.BufferLen())
	}
}

func TestForwarder_TimerFlush(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "siem"}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, discardLogger())
	f.Start(context.Background())
	defer f.Shutdown(context.Background())

	f.Submit(context.Background(), newEvent(1))
	waitFor(t, time.Second, func() bool { return sink.CallCount() == 1 })

	report := <-f.Reports()
	if report.Trigger != domain.TriggerTimer {
		t.Errorf("expected timer trigger, got %s", report.Trigger)
	}
}

func TestForwarder_Shutdown(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "siem"}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger())
	f.Start(context.Background())

	f.Submit(context.Background(), newEvent(1))
	f.Submit(context.Background(), newEvent(2))

	res, err := f.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessedCount != 2 {
		t.Errorf("expected final flush to deliver 2 events, got %+v", res)
	}

	f.Submit(context.Background(), newEvent(3))
	if f.BufferLen() != 0 || f.DroppedEvents() != 1 {
		t.Errorf("expected submissions after shutdown to be dropped, buffer=%d dropped=%d", f.BufferLen(), f.DroppedEvents())
	}

	var reports int
	for range f.Reports() {
		reports++
	}
	if reports != 1 {
		t.Errorf("expected the shutdown report before the channel closed, got %d", reports)
	}

	// Second call is a no-op.
	if _, err := f.Shutdown(context.Background()); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestForwarder_ShutdownDeadline(t *testing.T) {
	sink := &mocks.MockSink{SinkName: "hung", Delay: 200 * time.Millisecond}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger())
	f.Submit(context.Background(), newEvent(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Shutdown(ctx); err == nil {
		t.Error("expected a deadline error when the final flush outlives ctx")
	}
}

func TestForwarder_ShutdownBoundedByBusyTimerFlush(t *testing.T) {
	release := make(chan struct{})
	sink := &mocks.MockSink{SinkName: "stuck", DeliverFunc: func(_ context.Context, events []domain.SecurityEvent) domain.Result {
		<-release
		return domain.Result{Success: true, ProcessedCount: len(events)}
	}}
	defer close(release)

	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, discardLogger())
	f.Start(context.Background())
	f.Submit(context.Background(), newEvent(1))
	waitFor(t, time.Second, func() bool { return sink.CallCount() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Shutdown(ctx)
	if err == nil {
		t.Fatal("expected an error while the timer flush is still delivering")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown ignored its deadline, took %v", elapsed)
	}
}

func TestForwarder_PanickingSinkIsIsolated(t *testing.T) {
	ok := &mocks.MockSink{SinkName: "ok"}
	boom := &mocks.MockSink{SinkName: "boom", Panic: true}
	f := NewForwarder([]domain.Sink{ok, boom}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger())

	f.Submit(context.Background(), newEvent(1))
	f.Submit(context.Background(), newEvent(2))
	res := f.Flush(context.Background())

	if res.Success {
		t.Error("expected failure from the panicking sink")
	}
	if res.ProcessedCount != 2 || res.FailedCount != 2 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if len(ok.DeliveredEvents()) != 2 {
		t.Error("healthy sink must still receive the batch")
	}
}

func TestForwarder_NoConfiguredSinks(t *testing.T) {
	unconfigured := &mocks.MockSink{SinkName: "splunk", Unconfigured: true}
	archive := &mocks.MockDropArchive{}
	f := NewForwarder([]domain.Sink{unconfigured}, ForwarderConfig{BatchSize: 100, FlushInterval: time.Hour}, discardLogger(), WithDropArchive(archive))

	f.Submit(context.Background(), newEvent(1))
	res := f.Flush(context.Background())

	if res.Success || res.FailedCount != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if unconfigured.CallCount() != 0 {
		t.Error("unconfigured sinks must not be dispatched to")
	}
	if f.BufferLen() != 0 || f.DroppedEvents() != 1 || archive.Count() != 1 {
		t.Errorf("expected batch discarded and archived: buffer=%d dropped=%d archived=%d", f.BufferLen(), f.DroppedEvents(), archive.Count())
	}
}

func TestForwarder_InvalidEventDropped(t *testing.T) {
	sink := &mocks.MockSink{}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 1, FlushInterval: time.Hour}, discardLogger())

	e := newEvent(1)
	e.OrganizationID = ""
	f.Submit(context.Background(), e)

	if sink.CallCount() != 0 || f.BufferLen() != 0 || f.DroppedEvents() != 1 {
		t.Errorf("expected invalid event to be dropped before buffering")
	}
}

func TestForwarder_TestConnectivity(t *testing.T) {
	ok := &mocks.MockSink{SinkName: "elastic"}
	down := &mocks.MockSink{SinkName: "syslog", Fail: true, FailErr: "dial tcp 10.0.0.1:514: i/o timeout"}
	silent := &mocks.MockSink{SinkName: "kafka", DeliverFunc: func(ctx context.Context, events []domain.SecurityEvent) domain.Result {
		return domain.Result{FailedCount: len(events)}
	}}
	unconfigured := &mocks.MockSink{SinkName: "azure", Unconfigured: true}
	f := NewForwarder([]domain.Sink{ok, down, silent, unconfigured}, ForwarderConfig{}, discardLogger())

	status := f.TestConnectivity(context.Background())

	if len(status) != 3 {
		t.Fatalf("expected only configured sinks to be reported, got %v", status)
	}
	if _, present := status["azure"]; present {
		t.Error("unconfigured sink must not appear in the connectivity map")
	}
	if !status["elastic"].Connected || status["elastic"].Error != "" {
		t.Errorf("unexpected status for healthy sink: %+v", status["elastic"])
	}
	if status["syslog"].Connected || status["syslog"].Error == "" {
		t.Errorf("expected unreachable sink to report an error: %+v", status["syslog"])
	}
	if status["kafka"].Error != "delivery failed" {
		t.Errorf("expected a fallback error message, got %q", status["kafka"].Error)
	}

	sent := ok.DeliveredEvents()
	if len(sent) != 1 || sent[0].Severity != domain.SeverityLow || sent[0].EventType != "connectivity_test" || sent[0].OrganizationID != domain.GlobalOrganization {
		t.Errorf("unexpected connectivity event: %+v", sent)
	}
	if f.BufferLen() != 0 {
		t.Error("connectivity checks must bypass the buffer")
	}
}

func TestForwarder_ReportsAreBounded(t *testing.T) {
	sink := &mocks.MockSink{}
	f := NewForwarder([]domain.Sink{sink}, ForwarderConfig{BatchSize: 1, FlushInterval: time.Hour, ReportBuffer: 1}, discardLogger())

	f.Submit(context.Background(), newEvent(1))
	f.Submit(context.Background(), newEvent(2))
	f.Submit(context.Background(), newEvent(3))

	if got := f.DroppedReports(); got != 2 {
		t.Errorf("expected 2 dropped reports with nobody reading, got %d", got)
	}
	if sink.CallCount() != 3 {
		t.Errorf("an unread report channel must not stall flushing, got %d flushes", sink.CallCount())
	}
}

func TestForwarder_Metrics(t *testing.T) {
	m := metrics.NewForwarderMetrics(prometheus.NewRegistry())
	ok := &mocks.MockSink{SinkName: "ok"}
	bad := &mocks.MockSink{SinkName: "bad", Fail: true}
	f := NewForwarder([]domain.Sink{ok, bad}, ForwarderConfig{BatchSize: 2, FlushInterval: time.Hour}, discardLogger(), WithMetrics(m))

	f.Submit(context.Background(), newEvent(1))
	f.Submit(context.Background(), newEvent(2))

	if got := testutil.ToFloat64(m.SubmittedTotal); got != 2 {
		t.Errorf("submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkEventsTotal.WithLabelValues("ok", "processed")); got != 2 {
		t.Errorf("ok processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkEventsTotal.WithLabelValues("bad", "failed")); got != 2 {
		t.Errorf("bad failed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FlushesTotal.WithLabelValues("threshold", "partial")); got != 1 {
		t.Errorf("partial threshold flushes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BufferDepth); got != 0 {
		t.Errorf("buffer depth = %v, want 0", got)
	}
}

func TestForwarder_Sinks(t *testing.T) {
	f := NewForwarder([]domain.Sink{
		&mocks.MockSink{SinkName: "a"},
		&mocks.MockSink{SinkName: "b", Unconfigured: true},
	}, ForwarderConfig{}, discardLogger())

	got := f.Sinks()
	if len(got) != 2 || !got[0].Configured || got[1].Configured || got[1].Name != "b" {
		t.Errorf("unexpected sinks: %+v", got)
	}
}
