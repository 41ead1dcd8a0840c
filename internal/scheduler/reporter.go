// Package scheduler periodically archives the status of every live workflow.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/wfstatus/internal/logging"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// DefaultSpec archives every five minutes.
const DefaultSpec = "*/5 * * * *"

// Archiver is the part of the driver the reporter needs.
// Satisfied by *engine.Driver.
type Archiver interface {
	List() []workflow.ID
	Archive(ctx context.Context, id string) (*store.Snapshot, error)
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Spec    string // standard 5-field cron spec, DefaultSpec when empty
	Workers int    // concurrent archive writes, 4 when zero
	Now     func() time.Time
}

// Report summarizes one activation.
type Report struct {
	Tracked   int           `json:"tracked"`
	Archived  int           `json:"archived"`
	Finished  int           `json:"finished"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Reporter archives a snapshot of every tracked workflow on a cron schedule.
type Reporter struct {
	archiver Archiver
	schedule cron.Schedule
	spec     string
	workers  int
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflows being archived (dedup)
}

// ParseSpec parses a standard 5-field cron expression.
func ParseSpec(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

// NewReporter creates a Reporter. It fails on an invalid cron spec.
func NewReporter(archiver Archiver, cfg ReporterConfig, logger *slog.Logger) (*Reporter, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	schedule, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		archiver: archiver,
		schedule: schedule,
		spec:     spec,
		workers:  workers,
		now:      now,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}, nil
}

// Next returns the first activation after from.
func (r *Reporter) Next(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Start launches the background loop.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("reporter already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("snapshot reporter started", slog.String("spec", r.spec))
	return nil
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	for {
		now := r.now()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("snapshot report failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop shuts the loop down and waits for the current activation to end.
func (r *Reporter) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("snapshot reporter stopped")
	return nil
}

// RunOnce archives every tracked workflow and logs a progress line.
// Workflows still being archived by an earlier activation are skipped.
func (r *Reporter) RunOnce(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.now()}
	ids := r.archiver.List()
	report.Tracked = len(ids)

	var mu sync.Mutex
	p := newPool(r.workers)
	var submitErr error
	for _, id := range ids {
		wfID := id.String()
		if !r.tryAcquire(wfID) {
			report.Skipped++
			continue
		}
		err := p.Go(ctx, func(ctx context.Context) error {
			defer r.release(wfID)
			snap, err := r.archiver.Archive(ctx, wfID)
			if err != nil {
				logging.LogWith(logging.WithWorkflowID(ctx, wfID), r.logger).
					Warn("archive failed", slog.String("error", err.Error()))
				return err
			}
			if snap.Finished {
				mu.Lock()
				report.Finished++
				mu.Unlock()
			}
			return nil
		})
		if err != nil {
			r.release(wfID)
			submitErr = err
			break
		}
	}

	m := p.Wait()
	report.Archived = int(m.Completed)
	report.Failed = int(m.Failed)
	report.Duration = r.now().Sub(report.StartedAt)

	r.logger.Info("snapshot report",
		slog.Int("tracked", report.Tracked),
		slog.Int("archived", report.Archived),
		slog.Int("finished", report.Finished),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration),
	)
	return report, submitErr
}

func (r *Reporter) tryAcquire(id string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reporter) release(id string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, id)
}
