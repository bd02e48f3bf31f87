// Package janitor archives finished agents on a cron schedule.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/natsbus"
	"github.com/mtzanidakis/webforge/internal/pool"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

// Events receives sweep summaries.
type Events interface {
	PublishJSON(topic string, v any) error
}

type Janitor struct {
	pool   *pool.Pool
	files  *vfs.Registry
	events Events

	mu       sync.Mutex
	cfg      config.JanitorConfig
	reloadCh chan struct{}
}

// Sweep summarizes one archive pass.
type Sweep struct {
	Conversations int       `json:"conversations"`
	Archived      int       `json:"archived"`
	At            time.Time `json:"at"`
}

func New(p *pool.Pool, files *vfs.Registry, events Events, cfg config.JanitorConfig) *Janitor {
	return &Janitor{
		pool:     p,
		files:    files,
		events:   events,
		cfg:      cfg,
		reloadCh: make(chan struct{}, 1),
	}
}

// UpdateConfig swaps the schedule and age limit, then signals the run loop
// to recompute its next tick.
func (j *Janitor) UpdateConfig(cfg config.JanitorConfig) {
	j.mu.Lock()
	j.cfg = cfg
	j.mu.Unlock()
	select {
	case j.reloadCh <- struct{}{}:
	default:
	}
}

func (j *Janitor) config() config.JanitorConfig {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg
}

// NextRun returns when the schedule fires next after now.
func NextRun(schedule string, now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(schedule, now, false)
}

// Start runs sweeps until ctx is done. An invalid schedule parks the loop
// until the next config reload.
func (j *Janitor) Start(ctx context.Context) {
	slog.Info("janitor started", "schedule", j.config().Schedule)
	for {
		cfg := j.config()
		var tick <-chan time.Time
		var timer *time.Timer
		next, err := NextRun(cfg.Schedule, time.Now())
		if err != nil {
			slog.Error("invalid janitor schedule", "schedule", cfg.Schedule, "error", err)
		} else {
			timer = time.NewTimer(time.Until(next))
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("janitor stopped")
			return
		case <-j.reloadCh:
			if timer != nil {
				timer.Stop()
			}
			cfg = j.config()
			slog.Info("janitor config reloaded", "schedule", cfg.Schedule, "max_age", cfg.MaxAge)
		case <-tick:
			j.Sweep(ctx)
		}
	}
}

// Sweep archives terminal agents older than the configured age in every
// conversation. Agents that still own project files are kept.
func (j *Janitor) Sweep(ctx context.Context) Sweep {
	res := Sweep{At: time.Now().UTC()}
	convs, err := j.pool.Conversations(ctx)
	if err != nil {
		slog.Error("janitor: list conversations failed", "error", err)
		return res
	}
	maxAge := j.config().MaxAge

	for _, conv := range convs {
		project, ok := j.files.Lookup(conv)
		retain := func(id string) bool {
			return ok && len(project.OwnedBy(id)) > 0
		}
		n, err := j.pool.Archive(ctx, conv, maxAge, retain)
		if err != nil {
			slog.Warn("janitor: archive failed", "conversation", conv, "error", err)
			continue
		}
		res.Conversations++
		res.Archived += n
	}

	slog.Info("janitor sweep finished", "conversations", res.Conversations, "archived", res.Archived)
	if j.events != nil {
		if err := j.events.PublishJSON(natsbus.TopicEventsJanitor, res); err != nil {
			slog.Warn("janitor: publish sweep failed", "error", err)
		}
	}
	return res
}
