package services

import (
	"context"
	"sync"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/models"
	"autoflow/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RuleSource lists the rules eligible for the next tick.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]models.AutomationRule, error)
}

// RunRecorder folds a run into a rule's counters.
type RunRecorder interface {
	RecordExecution(ctx context.Context, id string, success bool, elapsedMs int64, at time.Time) error
}

type conflictSource interface {
	ConflictFinder(ctx context.Context, tenantID string) ConflictFinder
}

type tenantSignals interface {
	Tenants() []string
	Signals(tenantID string) map[string]interface{}
}

// SchedulerConfig controls the tick loop and the background jobs. A zero
// interval disables the job.
type SchedulerConfig struct {
	TickInterval        time.Duration
	Workers             int
	DiagnosticsInterval time.Duration
	DiagnosticsWindow   int
	AdvisorInterval     time.Duration
}

// SchedulerDeps are the collaborators the scheduler drives. Hub, Counters
// and Advisor are optional.
type SchedulerDeps struct {
	Rules       RuleSource
	Engine      *Engine
	Store       store.Store
	Signals     SignalProvider
	Diagnostics *Diagnostics
	Hub         *RecordHub
	Counters    RunRecorder
	Advisor     *AdvisorService
}

// SchedulerStats 调度器运行统计
type SchedulerStats struct {
	Ticks            int64     `json:"ticks"`
	Evaluations      int64     `json:"evaluations"`
	Succeeded        int64     `json:"succeeded"`
	Skipped          int64     `json:"skipped"`
	Failed           int64     `json:"failed"`
	AppendErrors     int64     `json:"append_errors"`
	DiagnosticsRuns  int64     `json:"diagnostics_runs"`
	ActiveWorkers    int       `json:"active_workers"`
	LastTickAt       time.Time `json:"last_tick_at"`
	LastTickDuration string    `json:"last_tick_duration"`
}

// Scheduler runs every active rule once per tick on a bounded worker pool
// and runs diagnostics and advisor upkeep on their own cadence.
type Scheduler struct {
	deps   SchedulerDeps
	cfg    SchedulerConfig
	now    func() time.Time
	logger *logrus.Logger

	mu    sync.Mutex
	stats SchedulerStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DiagnosticsWindow <= 0 {
		cfg.DiagnosticsWindow = 10
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = NewDiagnostics(logger)
	}
	return &Scheduler{deps: deps, cfg: cfg, now: time.Now, logger: logger}
}

// WithClock replaces the clock used to stamp ticks.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the tick loop and background jobs.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.loop(ctx, s.cfg.TickInterval, func(ctx context.Context) { s.Tick(ctx) })
	s.loop(ctx, s.cfg.DiagnosticsInterval, func(ctx context.Context) { s.RunDiagnostics(ctx) })
	s.loop(ctx, s.cfg.AdvisorInterval, s.runAdvisor)
	s.logger.Infof("scheduler: started (tick=%s workers=%d)", s.cfg.TickInterval, s.cfg.Workers)
}

// Stop cancels the loops and waits for in-flight work to record.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, job func(context.Context)) {
	if every <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()
}

// Tick evaluates every active rule once and returns the records produced.
// Rules of one tenant share a snapshot so each event is seen by all of
// them.
func (s *Scheduler) Tick(ctx context.Context) []*models.ExecutionRecord {
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()
	start := time.Now()
	now := s.now()

	rules, err := s.deps.Rules.ActiveRules(ctx)
	if err != nil {
		s.logger.Errorf("scheduler: load rules failed: %v", err)
		return nil
	}
	span.SetAttributes(attribute.Int("rules", len(rules)))

	snapshots := map[string]models.Snapshot{}
	for _, r := range rules {
		if _, ok := snapshots[r.TenantID]; ok {
			continue
		}
		snap := models.Snapshot{}
		if s.deps.Signals != nil {
			snap, err = s.deps.Signals.Snapshot(ctx, r.TenantID, now)
			if err != nil {
				s.logger.WithField("tenant_id", r.TenantID).Warnf("scheduler: snapshot failed: %v", err)
			}
		}
		snapshots[r.TenantID] = snap
	}

	jobs := make(chan models.AutomationRule)
	results := make(chan *models.ExecutionRecord, len(rules))
	workers := s.cfg.Workers
	if workers > len(rules) {
		workers = len(rules)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rule := range jobs {
				s.setActive(1)
				if rec := s.runRule(ctx, rule, now, snapshots[rule.TenantID]); rec != nil {
					results <- rec
				}
				s.setActive(-1)
			}
		}()
	}
	for _, r := range rules {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	close(results)

	records := make([]*models.ExecutionRecord, 0, len(rules))
	for rec := range results {
		records = append(records, rec)
	}

	elapsed := time.Since(start)
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(elapsed.Seconds())
	s.mu.Lock()
	s.stats.Ticks++
	s.stats.LastTickAt = now
	s.stats.LastTickDuration = elapsed.String()
	s.mu.Unlock()
	return records
}

// runRule evaluates and records one rule. A panic anywhere in the pipeline
// is logged and yields no record.
func (s *Scheduler) runRule(ctx context.Context, rule models.AutomationRule, now time.Time, snap models.Snapshot) (rec *models.ExecutionRecord) {
	log := s.logger.WithFields(logrus.Fields{"tenant_id": rule.TenantID, "automation_id": rule.ID})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("scheduler: rule evaluation panicked: %v", r)
			rec = nil
		}
	}()

	rec = s.deps.Engine.Evaluate(ctx, &rule, now, snap)
	metrics.ObserveExecution(string(rec.Result), float64(rec.ExecutionTimeMs)/1000)

	// 记录写入不受 tick 取消影响，保证进行中的评估落盘
	persistCtx := context.WithoutCancel(ctx)
	appended := true
	if err := s.deps.Store.Append(persistCtx, rec); err != nil {
		appended = false
		log.Errorf("automation: record append failed: %v", err)
	}
	if appended && s.deps.Hub != nil {
		s.deps.Hub.Publish(rec)
	}
	if rec.TriggerFired && s.deps.Counters != nil {
		if err := s.deps.Counters.RecordExecution(persistCtx, rule.ID, rec.Result == models.ResultSuccess, rec.ExecutionTimeMs, now); err != nil {
			log.Warnf("automation: update counters failed: %v", err)
		}
	}

	s.mu.Lock()
	s.stats.Evaluations++
	if !appended {
		s.stats.AppendErrors++
	}
	switch rec.Result {
	case models.ResultSuccess:
		s.stats.Succeeded++
	case models.ResultSkipped:
		s.stats.Skipped++
	case models.ResultFailed:
		s.stats.Failed++
		log.Warnf("automation: run failed: errors=%v warnings=%v", rec.Errors, rec.Warnings)
	}
	s.mu.Unlock()
	return rec
}

func (s *Scheduler) setActive(delta int) {
	s.mu.Lock()
	s.stats.ActiveWorkers += delta
	s.mu.Unlock()
}

// RunDiagnostics scans every active rule against its recent records.
func (s *Scheduler) RunDiagnostics(ctx context.Context) []*models.IssueReport {
	ctx, span := tracer.Start(ctx, "scheduler.diagnostics")
	defer span.End()

	rules, err := s.deps.Rules.ActiveRules(ctx)
	if err != nil {
		s.logger.Errorf("diagnostics: load rules failed: %v", err)
		return nil
	}

	var (
		mu      sync.Mutex
		reports = make([]*models.IssueReport, 0, len(rules))
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.cfg.Workers)
	)
	for i := range rules {
		rule := rules[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			report := s.diagnose(ctx, &rule)
			if report == nil {
				return
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}()
	}
	wg.Wait()

	metrics.DiagnosticsRunsTotal.Inc()
	s.mu.Lock()
	s.stats.DiagnosticsRuns++
	s.mu.Unlock()
	return reports
}

func (s *Scheduler) diagnose(ctx context.Context, rule *models.AutomationRule) *models.IssueReport {
	log := s.logger.WithFields(logrus.Fields{"tenant_id": rule.TenantID, "automation_id": rule.ID})
	records, err := s.deps.Store.Recent(ctx, rule.ID, s.cfg.DiagnosticsWindow)
	if err != nil {
		log.Warnf("diagnostics: load records failed: %v", err)
		return nil
	}
	diag := s.deps.Diagnostics
	if cs, ok := s.deps.Rules.(conflictSource); ok {
		diag = &Diagnostics{now: diag.now, conflicts: cs.ConflictFinder(ctx, rule.TenantID), logger: diag.logger}
	}
	report := diag.DetectIssues(rule.ID, rule.Config(), records)
	metrics.HealthScore.WithLabelValues(rule.ID).Set(float64(report.HealthScore))
	for _, issue := range report.Errors {
		log.WithField("code", issue.Code).Warnf("diagnostics: %s", issue.Message)
	}
	return report
}

func (s *Scheduler) runAdvisor(ctx context.Context) {
	if s.deps.Advisor == nil {
		return
	}
	n, err := s.deps.Advisor.ExpireStale(ctx, s.now())
	if err != nil {
		s.logger.Warnf("advisor: expire failed: %v", err)
	} else if n > 0 {
		s.logger.Infof("advisor: expired %d recommendations", n)
	}
	ts, ok := s.deps.Signals.(tenantSignals)
	if !ok {
		return
	}
	for _, tenantID := range ts.Tenants() {
		if _, err := s.deps.Advisor.Match(ctx, tenantID, ts.Signals(tenantID)); err != nil {
			s.logger.WithField("tenant_id", tenantID).Warnf("advisor: match failed: %v", err)
		}
	}
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
