package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/philmcc/dbdash-backend/internal/config"
	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/pkg/metrics"
	"github.com/philmcc/dbdash-backend/internal/pkg/tracing"
	"github.com/philmcc/dbdash-backend/internal/repository"
	"github.com/philmcc/dbdash-backend/internal/telemetry"
)

// Monitor owns one polling loop per monitored target. The registry of
// loops is explicit state behind a mutex; a target's loop is created by
// Start, removed by Stop or by reaching its scheduled end time, and never
// overlaps its own cycles.
type Monitor struct {
	store  repository.Store
	source telemetry.Source
	cfg    *config.Config
	log    *slog.Logger

	mu       sync.Mutex
	loops    map[string]*pollLoop
	limiters map[string]*rate.Limiter
}

type pollLoop struct {
	session  *models.MonitoringSession
	targetID string
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (l *pollLoop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// NewMonitor creates the scheduler service.
func NewMonitor(store repository.Store, source telemetry.Source, cfg *config.Config, log *slog.Logger) *Monitor {
	return &Monitor{
		store:    store,
		source:   source,
		cfg:      cfg,
		log:      log,
		loops:    make(map[string]*pollLoop),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start begins monitoring a target. Fails with SessionStateConflict when
// the target already has a running session; on success a session row is
// durably created before the loop spawns, so the caller never observes a
// half-started session.
func (m *Monitor) Start(ctx context.Context, targetID string, intervalSeconds int, endTime *time.Time) (*models.MonitoringSession, error) {
	if intervalSeconds <= 0 {
		intervalSeconds = m.cfg.DefaultIntervalSec
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loops[targetID]; ok {
		return nil, models.NewEngineError(models.ErrSessionStateConflict, nil, "target %s is already being monitored", targetID)
	}
	running, err := m.store.GetRunningSession(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, models.NewEngineError(models.ErrSessionStateConflict, nil, "target %s already has running session %s", targetID, running.ID)
	}

	session := &models.MonitoringSession{
		TargetID:         targetID,
		IntervalSeconds:  intervalSeconds,
		ScheduledEndTime: endTime,
		Status:           models.SessionStatusRunning,
		StartedAt:        time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	loop := &pollLoop{
		session:  session,
		targetID: targetID,
		interval: time.Duration(intervalSeconds) * time.Second,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.loops[targetID] = loop
	metrics.ActiveSessions.Inc()

	m.log.Info("Monitoring started",
		"target_id", targetID, "session_id", session.ID,
		"interval_seconds", intervalSeconds, "scheduled_end", endTime)

	go m.run(loop)
	return session, nil
}

// Stop ends a target's monitoring session. Returns after the loop has
// exited, so no further writes for this session occur past the call,
// apart from an already-started batch draining. Stopping an
// already-stopped target is a no-op; stopping a target that was never
// monitored is a SessionStateConflict.
func (m *Monitor) Stop(ctx context.Context, targetID string) error {
	m.mu.Lock()
	loop, ok := m.loops[targetID]
	if ok {
		delete(m.loops, targetID)
	}
	m.mu.Unlock()

	if ok {
		loop.stop()
		<-loop.doneCh
		metrics.ActiveSessions.Dec()
		m.log.Info("Monitoring stopped", "target_id", targetID, "session_id", loop.session.ID)
		return m.store.FinishSession(ctx, loop.session.ID, models.SessionStatusStopped)
	}

	// No loop in the registry: either an orphaned session row survived a
	// crash, or the session is already finished.
	running, err := m.store.GetRunningSession(ctx, targetID)
	if err != nil {
		return err
	}
	if running != nil {
		return m.store.FinishSession(ctx, running.ID, models.SessionStatusStopped)
	}
	sessions, err := m.store.ListSessions(ctx, targetID)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		return nil
	}
	return models.NewEngineError(models.ErrSessionStateConflict, nil, "target %s is not being monitored", targetID)
}

// StopAll shuts down every running loop. Used on process shutdown.
func (m *Monitor) StopAll(ctx context.Context) {
	m.mu.Lock()
	targets := make([]string, 0, len(m.loops))
	for targetID := range m.loops {
		targets = append(targets, targetID)
	}
	m.mu.Unlock()

	for _, targetID := range targets {
		if err := m.Stop(ctx, targetID); err != nil && !models.IsKind(err, models.ErrSessionStateConflict) {
			m.log.Error("Failed to stop session during shutdown", "target_id", targetID, "error", err)
		}
	}
}

// ListSessions returns a target's sessions, newest first.
func (m *Monitor) ListSessions(ctx context.Context, targetID string) ([]*models.MonitoringSession, error) {
	return m.store.ListSessions(ctx, targetID)
}

// ListTargets returns every target id that has collected data.
func (m *Monitor) ListTargets(ctx context.Context) ([]string, error) {
	return m.store.ListTargets(ctx)
}

// CollectNow runs a single collection cycle for a target outside any
// session schedule. It may overlap a scheduled cycle for the same target;
// the store's atomic upserts make that overlap safe.
func (m *Monitor) CollectNow(ctx context.Context, targetID string) error {
	interval := time.Duration(m.cfg.DefaultIntervalSec) * time.Second
	_, err := m.collect(ctx, targetID, interval)
	return err
}

func (m *Monitor) run(loop *pollLoop) {
	defer close(loop.doneCh)

	for {
		m.runCycle(loop)

		if loop.session.Expired(time.Now().UTC()) {
			m.complete(loop)
			return
		}

		select {
		case <-time.After(loop.interval):
		case <-loop.stopCh:
			return
		}
	}
}

// runCycle executes one poll: fetch, ingest each row, record last run.
// A source failure skips the cycle; the loop reschedules at the same
// interval. A single row's write failure does not abort the batch, the
// source re-reports the row next cycle anyway.
func (m *Monitor) runCycle(loop *pollLoop) {
	start := time.Now()
	ingested, err := m.collect(context.Background(), loop.targetID, loop.interval)
	duration := time.Since(start)

	if err != nil {
		metrics.CollectionCyclesTotal.WithLabelValues(loop.targetID, "source_error").Inc()
		m.log.Warn("Collection cycle skipped",
			"target_id", loop.targetID, "session_id", loop.session.ID, "error", err)
		return
	}

	if err := m.store.TouchSessionLastRun(context.Background(), loop.session.ID, time.Now().UTC()); err != nil {
		m.log.Error("Failed to record cycle completion", "session_id", loop.session.ID, "error", err)
	}

	metrics.CollectionCyclesTotal.WithLabelValues(loop.targetID, "ok").Inc()
	metrics.CollectionCycleDurationSeconds.WithLabelValues(loop.targetID).Observe(duration.Seconds())
	m.log.Debug("Collection cycle completed",
		"target_id", loop.targetID, "ingested", ingested, "duration_ms", duration.Milliseconds())
}

// collect fetches one snapshot under the source timeout and ingests it.
func (m *Monitor) collect(ctx context.Context, targetID string, interval time.Duration) (int, error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "telemetry.collect",
		attribute.String("target_id", targetID))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.SourceTimeout(interval))
	defer cancel()

	if limiter := m.limiterFor(targetID); limiter != nil {
		if err := limiter.Wait(fetchCtx); err != nil {
			return 0, models.NewEngineError(models.ErrSourceUnavailable, err, "rate limit wait for target %s", targetID)
		}
	}

	snapshot, err := m.source.FetchSnapshot(fetchCtx, targetID)
	if err != nil {
		if models.KindOf(err) != "" {
			return 0, err
		}
		return 0, models.NewEngineError(models.ErrSourceUnavailable, err, "fetch snapshot for target %s", targetID)
	}

	ingested := 0
	for _, row := range snapshot {
		result, err := m.store.IngestSample(ctx, targetID, row.RawText, row.StatementStats)
		if err != nil {
			metrics.IngestFailuresTotal.Inc()
			m.log.Error("Failed to ingest sample", "target_id", targetID, "error", err)
			continue
		}
		ingested++
		metrics.SamplesIngestedTotal.Inc()
		if result.IsNewCanonical {
			metrics.CanonicalQueriesCreatedTotal.Inc()
		}
	}
	span.SetAttributes(attribute.Int("rows", len(snapshot)), attribute.Int("ingested", ingested))
	return ingested, nil
}

func (m *Monitor) complete(loop *pollLoop) {
	m.mu.Lock()
	if current, ok := m.loops[loop.targetID]; ok && current == loop {
		delete(m.loops, loop.targetID)
		metrics.ActiveSessions.Dec()
	}
	m.mu.Unlock()

	if err := m.store.FinishSession(context.Background(), loop.session.ID, models.SessionStatusCompleted); err != nil {
		m.log.Error("Failed to mark session completed", "session_id", loop.session.ID, "error", err)
	}
	m.log.Info("Monitoring completed", "target_id", loop.targetID, "session_id", loop.session.ID)
}

// limiterFor returns the target's shared fetch limiter, covering both
// scheduled cycles and manual triggers. Nil when rate limiting is off.
func (m *Monitor) limiterFor(targetID string) *rate.Limiter {
	if m.cfg.SourceRateLimitPerSec <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.limiters[targetID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.SourceRateLimitPerSec), 1)
		m.limiters[targetID] = limiter
	}
	return limiter
}
