package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	defaultForwarderBatchSize = 100
	defaultFlushInterval      = 5 * time.Second
	defaultReportBuffer       = 64

	connectivityEventType = "connectivity_test"
)

var errNoConfiguredSinks = errors.New("no configured sinks")

// ForwarderConfig controls when the forwarder flushes.
type ForwarderConfig struct {
	// BatchSize is the buffer depth that triggers a synchronous flush inside Submit.
	BatchSize int
	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration
	// ReportBuffer is the capacity of the flush report channel. Reports are
	// discarded when it is full.
	ReportBuffer int
}

// SinkStatus describes one sink known to the forwarder.
type SinkStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// ForwarderOption customizes a Forwarder.
type ForwarderOption func(*Forwarder)

// WithMetrics records forwarder activity in m.
func WithMetrics(m *metrics.ForwarderMetrics) ForwarderOption {
	return func(f *Forwarder) { f.metrics = m }
}

// WithDropArchive copies every dropped event to archive.
func WithDropArchive(archive domain.DropArchive) ForwarderOption {
	return func(f *Forwarder) { f.archive = archive }
}

// Forwarder buffers submitted security events and fans each flushed batch
// out to every configured sink concurrently.
//
// The buffer is guarded by mu. Flushes are serialized by flushMu, which is
// always acquired before mu and never while holding it.
type Forwarder struct {
	sinks   []domain.Sink
	cfg     ForwarderConfig
	logger  *slog.Logger
	metrics *metrics.ForwarderMetrics
	archive domain.DropArchive
	tracer  trace.Tracer

	mu     sync.Mutex
	buffer []domain.SecurityEvent
	closed bool

	flushMu sync.Mutex

	reportMu      sync.RWMutex
	reports       chan domain.FlushReport
	reportsClosed bool

	droppedEvents  atomic.Int64
	droppedReports atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewForwarder creates a forwarder over sinks. Zero config fields take their defaults.
func NewForwarder(sinks []domain.Sink, cfg ForwarderConfig, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultForwarderBatchSize
	}
	if cfg.BatchSize > domain.MaxBufferedEvents {
		cfg.BatchSize = domain.MaxBufferedEvents
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.ReportBuffer <= 0 {
		cfg.ReportBuffer = defaultReportBuffer
	}

	f := &Forwarder{
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger.With("component", "forwarder"),
		tracer:  otel.Tracer("forwarder"),
		buffer:  make([]domain.SecurityEvent, 0, cfg.BatchSize),
		reports: make(chan domain.FlushReport, cfg.ReportBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the periodic flush timer. It returns immediately; the timer
// runs until Shutdown is called or ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		f.started.Store(true)
		go f.run(ctx)
		f.logger.Info("forwarder started", "batch_size", f.cfg.BatchSize, "flush_interval", f.cfg.FlushInterval, "sinks", len(f.sinks))
	})
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			if f.BufferLen() > 0 {
				f.flush(ctx, domain.TriggerTimer)
			}
		}
	}
}

// Submit buffers event for delivery. It never fails from the caller's point
// of view: invalid events and overflow are logged and counted. When the
// buffer reaches the batch size, Submit flushes before returning.
func (f *Forwarder) Submit(ctx context.Context, event domain.SecurityEvent) {
	if err := event.Validate(); err != nil {
		f.logger.Warn("dropping invalid event", "event_id", event.ID, "error", err)
		f.countDropped("invalid", 1)
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.logger.Warn("dropping event submitted after shutdown", "event_id", event.ID)
		f.countDropped("shutdown", 1)
		f.archiveDropped(ctx, []domain.SecurityEvent{event})
		return
	}

	var overflow []domain.SecurityEvent
	if len(f.buffer) >= domain.MaxBufferedEvents {
		// Oldest first out.
		n := len(f.buffer) - domain.MaxBufferedEvents + 1
		overflow = append(overflow, f.buffer[:n]...)
		f.buffer = append(f.buffer[:0], f.buffer[n:]...)
	}
	f.buffer = append(f.buffer, event)
	depth := len(f.buffer)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SubmittedTotal.Inc()
		f.metrics.BufferDepth.Set(float64(depth))
	}
	if len(overflow) > 0 {
		f.logger.Warn("buffer full, dropped oldest events", "dropped", len(overflow), "error", domain.ErrBufferOverflow)
		f.countDropped("overflow", len(overflow))
		f.archiveDropped(ctx, overflow)
	}

	if depth >= f.cfg.BatchSize {
		f.flush(ctx, domain.TriggerThreshold)
	}
}

// Flush drains the buffer and delivers it immediately.
func (f *Forwarder) Flush(ctx context.Context) domain.Result {
	return f.flush(ctx, domain.TriggerManual)
}

func (f *Forwarder) flush(ctx context.Context, trigger domain.FlushTrigger) domain.Result {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	// In-flight deliveries are not cancelled when the triggering caller goes away.
	ctx = context.WithoutCancel(ctx)
	ctx, span := f.tracer.Start(ctx, "Forwarder.Flush", trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer span.End()

	f.mu.Lock()
	batch := f.buffer
	f.buffer = make([]domain.SecurityEvent, 0, f.cfg.BatchSize)
	f.mu.Unlock()

	if len(batch) == 0 {
		return domain.SuccessResult(0)
	}
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	started := time.Now()
	report := domain.FlushReport{Trigger: trigger, StartedAt: started, BatchSize: len(batch)}

	configured := f.configuredSinks()
	if len(configured) == 0 {
		f.logger.Warn("no configured sinks, discarding batch", "events", len(batch))
		f.countDropped("no_sinks", len(batch))
		f.archiveDropped(ctx, batch)
		report.Result = domain.FailedResult(len(batch), errNoConfiguredSinks)
		report.Dropped = len(batch)
		report.Duration = time.Since(started)
		span.SetStatus(codes.Error, errNoConfiguredSinks.Error())
		f.finishFlush(report, 0)
		return report.Result
	}

	results := f.dispatch(ctx, configured, batch)

	agg := domain.Result{}
	report.Sinks = make(map[string]domain.Result, len(configured))
	totalFailure := true
	for i, sink := range configured {
		r := results[i]
		agg.Add(r)
		report.Sinks[sink.Name()] = r
		if r.ProcessedCount > 0 || r.FailedCount == 0 {
			totalFailure = false
		}
	}
	report.Result = agg

	if totalFailure {
		requeued, dropped := f.requeue(batch)
		report.Requeued = requeued
		report.Dropped = len(dropped)
		if len(dropped) > 0 {
			f.countDropped("requeue_overflow", len(dropped))
			f.archiveDropped(ctx, dropped)
		}
		f.logger.Error("flush failed on every sink, batch re-buffered",
			"trigger", trigger, "events", len(batch), "requeued", requeued, "dropped", len(dropped), "errors", strings.Join(agg.Errors, "; "))
		span.SetStatus(codes.Error, "all sinks failed")
	} else if !agg.Success {
		f.logger.Warn("flush completed with failures",
			"trigger", trigger, "events", len(batch), "processed", agg.ProcessedCount, "failed", agg.FailedCount)
		span.SetStatus(codes.Error, "partial failure")
	} else {
		f.logger.Debug("flush completed", "trigger", trigger, "events", len(batch), "processed", agg.ProcessedCount)
	}

	report.Duration = time.Since(started)
	f.finishFlush(report, len(configured))
	return agg
}

func (f *Forwarder) configuredSinks() []domain.Sink {
	configured := make([]domain.Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		if s.IsConfigured() {
			configured = append(configured, s)
		}
	}
	return configured
}

// dispatch delivers batch to every sink in parallel and waits for all of them.
func (f *Forwarder) dispatch(ctx context.Context, sinks []domain.Sink, batch []domain.SecurityEvent) []domain.Result {
	results := make([]domain.Result, len(sinks))
	var wg sync.WaitGroup
	for i, sink := range sinks {
		wg.Add(1)
		go func(i int, sink domain.Sink) {
			defer wg.Done()
			results[i] = f.deliver(ctx, sink, batch)
		}(i, sink)
	}
	wg.Wait()
	return results
}

// deliver runs one sink delivery, converting a panic into an all-failed result.
func (f *Forwarder) deliver(ctx context.Context, sink domain.Sink, batch []domain.SecurityEvent) (result domain.Result) {
	ctx, span := f.tracer.Start(ctx, "Sink.Deliver", trace.WithAttributes(attribute.String("sink", sink.Name())))
	defer span.End()
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Error("sink panicked during delivery", "sink", sink.Name(), "panic", rec)
			result = domain.FailedResult(len(batch), fmt.Errorf("%s: panic during delivery: %v", sink.Name(), rec))
		}
		if result.FailedCount > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d events failed", result.FailedCount))
		}
		if f.metrics != nil {
			f.metrics.SinkDeliverSeconds.WithLabelValues(sink.Name()).Observe(time.Since(started).Seconds())
			f.metrics.SinkEventsTotal.WithLabelValues(sink.Name(), "processed").Add(float64(result.ProcessedCount))
			f.metrics.SinkEventsTotal.WithLabelValues(sink.Name(), "failed").Add(float64(result.FailedCount))
		}
	}()

	return sink.Deliver(ctx, batch)
}

// requeue puts a failed batch back at the front of the buffer. When the
// buffer cannot hold all of it, the newest events of the batch are kept.
func (f *Forwarder) requeue(batch []domain.SecurityEvent) (int, []domain.SecurityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room := domain.MaxBufferedEvents - len(f.buffer)
	if room <= 0 {
		return 0, batch
	}
	keep, dropped := batch, []domain.SecurityEvent(nil)
	if len(batch) > room {
		keep, dropped = batch[len(batch)-room:], batch[:len(batch)-room]
	}

	merged := make([]domain.SecurityEvent, 0, len(keep)+len(f.buffer))
	merged = append(merged, keep...)
	merged = append(merged, f.buffer...)
	f.buffer = merged
	return len(keep), dropped
}

func (f *Forwarder) finishFlush(report domain.FlushReport, sinkCount int) {
	if f.metrics != nil {
		outcome := "success"
		switch {
		case report.Result.ProcessedCount == 0:
			outcome = "failed"
		case !report.Result.Success:
			outcome = "partial"
		}
		f.metrics.FlushesTotal.WithLabelValues(string(report.Trigger), outcome).Inc()
		f.metrics.FlushDuration.Observe(report.Duration.Seconds())
		f.metrics.BufferDepth.Set(float64(f.BufferLen()))
	}
	f.publish(report)
}

// publish offers report to the report channel without blocking.
func (f *Forwarder) publish(report domain.FlushReport) {
	f.reportMu.RLock()
	defer f.reportMu.RUnlock()
	if f.reportsClosed {
		return
	}
	select {
	case f.reports <- report:
	default:
		f.droppedReports.Add(1)
		if f.metrics != nil {
			f.metrics.ReportsDropped.Inc()
		}
	}
}

func (f *Forwarder) countDropped(reason string, n int) {
	f.droppedEvents.Add(int64(n))
	if f.metrics != nil {
		f.metrics.DroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func (f *Forwarder) archiveDropped(ctx context.Context, events []domain.SecurityEvent) {
	if f.archive == nil || len(events) == 0 {
		return
	}
	if err := f.archive.Write(context.WithoutCancel(ctx), events...); err != nil {
		f.logger.Error("failed to archive dropped events", "events", len(events), "error", err)
	}
}

// Shutdown stops the flush timer and makes one best-effort final flush.
// Events submitted afterwards are dropped. The report channel is closed once
// the final flush has finished or ctx expires.
func (f *Forwarder) Shutdown(ctx context.Context) (domain.Result, error) {
	var (
		result domain.Result
		err    error
	)
	f.stopOnce.Do(func() {
		close(f.stop)
		if f.started.Load() {
			select {
			case <-f.done:
			case <-ctx.Done():
				err = fmt.Errorf("stop flush timer: %w", ctx.Err())
				f.logger.Warn("flush timer still busy at shutdown", "error", err)
			}
		}

		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		finished := make(chan domain.Result, 1)
		go func() { finished <- f.flush(ctx, domain.TriggerShutdown) }()

		select {
		case result = <-finished:
			f.logger.Info("forwarder stopped", "processed", result.ProcessedCount, "failed", result.FailedCount)
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("final flush: %w", ctx.Err()))
			f.logger.Warn("forwarder stopped before final flush completed", "error", err)
		}

		f.reportMu.Lock()
		f.reportsClosed = true
		close(f.reports)
		f.reportMu.Unlock()
	})
	return result, err
}

// TestConnectivity sends one synthetic low-severity event through each
// configured sink independently. Unconfigured sinks are left out of the result.
func (f *Forwarder) TestConnectivity(ctx context.Context) map[string]domain.ConnectivityStatus {
	configured := f.configuredSinks()
	status := make(map[string]domain.ConnectivityStatus, len(configured))
	if len(configured) == 0 {
		return status
	}

	synthetic := []domain.SecurityEvent{{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Severity:       domain.SeverityLow,
		Category:       "system",
		EventType:      connectivityEventType,
		Source:         "siem-forwarder",
		OrganizationID: domain.GlobalOrganization,
		Title:          "Connectivity Test",
		Description:    "Synthetic event verifying the forwarding path to this sink.",
	}}

	results := f.dispatch(ctx, configured, synthetic)
	for i, sink := range configured {
		r := results[i]
		s := domain.ConnectivityStatus{Connected: r.Success && r.FailedCount == 0 && r.ProcessedCount > 0}
		if !s.Connected {
			s.Error = strings.Join(r.Errors, "; ")
			if s.Error == "" {
				s.Error = "delivery failed"
			}
			f.logger.Warn("connectivity check failed", "sink", sink.Name(), "error", s.Error)
		}
		status[sink.Name()] = s
	}
	return status
}

// Reports returns the channel flush reports are published on. It is closed by Shutdown.
func (f *Forwarder) Reports() <-chan domain.FlushReport {
	return f.reports
}

// BufferLen returns the number of buffered events.
func (f *Forwarder) BufferLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffer)
}

// DroppedEvents returns the number of events dropped since start.
func (f *Forwarder) DroppedEvents() int64 { return f.droppedEvents.Load() }

// DroppedReports returns the number of flush reports nobody consumed in time.
func (f *Forwarder) DroppedReports() int64 { return f.droppedReports.Load() }

// Sinks lists every sink handed to the forwarder.
func (f *Forwarder) Sinks() []SinkStatus {
	out := make([]SinkStatus, len(f.sinks))
	for i, s := range f.sinks {
		out[i] = SinkStatus{Name: s.Name(), Configured: s.IsConfigured()}
	}
	return out
}
