// Package jobs runs periodic housekeeping on a cron schedule.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
)

// Default schedules (UTC)
const (
	PurgeSchedule     = "@hourly"
	ProvisionSchedule = "5 0 1 1 *" // 00:05 on 1 January
	OptimizeSchedule  = "30 3 * * *"
)

// JobStatus describes a scheduled job
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"schedule"`
	NextRun time.Time `json:"nextRun"`
	PrevRun time.Time `json:"prevRun"`
}

type job struct {
	name string
	spec string
	id   cron.EntryID
}

// Scheduler owns the cron instance and the housekeeping jobs
type Scheduler struct {
	db      *database.DB
	cron    *cron.Cron
	jobs    []*job
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewScheduler creates a scheduler; call Start to begin running jobs
func NewScheduler(db *database.DB) *Scheduler {
	return &Scheduler{
		db:   db,
		cron: cron.New(cron.WithLocation(time.UTC)),
		now:  time.Now,
	}
}

// Start registers the jobs and starts the cron loop. The current year's leave
// balances are provisioned immediately so a missed 1 January run is caught up.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	entries := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"purge", PurgeSchedule, s.Purge},
		{"provision_leave", ProvisionSchedule, func(ctx context.Context) error {
			_, err := s.ProvisionYear(ctx, s.now().UTC().Year())
			return err
		}},
		{"optimize", OptimizeSchedule, s.db.Optimize},
	}

	for _, e := range entries {
		id, err := s.cron.AddFunc(e.spec, wrap(s.ctx, e.name, e.fn))
		if err != nil {
			s.cancel()
			return err
		}
		s.jobs = append(s.jobs, &job{name: e.name, spec: e.spec, id: id})
	}

	s.cron.Start()
	s.running = true

	s.wg.Go(func() {
		_, err := s.ProvisionYear(s.ctx, s.now().UTC().Year())
		if err != nil && s.ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to provision leave balances on startup")
		}
	})

	log.Info().Int("jobs", len(s.jobs)).Msg("Job scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()

	for _, j := range s.jobs {
		s.cron.Remove(j.id)
	}
	s.jobs = nil
	s.running = false
	log.Info().Msg("Job scheduler stopped")
}

// Status returns the registered jobs with their next run time
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.id)
		out = append(out, JobStatus{Name: j.name, Spec: j.spec, NextRun: entry.Next, PrevRun: entry.Prev})
	}
	return out
}

func wrap(parent context.Context, name string, fn func(context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("job", name).Msg("Job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(parent, 10*time.Minute)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("job", name).Msg("Job failed")
			return
		}
		log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Job completed")
	}
}

// Purge removes used or expired reset tokens and read notifications older than
// the configured retention
func (s *Scheduler) Purge(ctx context.Context) error {
	loader := config.NewLoader(ctx, s.db)
	now := s.now()

	tokens, err := s.db.PurgePasswordResetTokens(ctx, now)
	if err != nil {
		return err
	}

	retention := loader.DurationDays(config.SettingNotificationRetentionDays, 90)
	var notifications int64
	if retention > 0 {
		notifications, err = s.db.PurgeReadNotifications(ctx, now.Add(-retention))
		if err != nil {
			return err
		}
	}

	if tokens > 0 || notifications > 0 {
		log.Info().
			Int64("reset_tokens", tokens).
			Int64("notifications", notifications).
			Msg("Purged stale records")
	}
	return nil
}

// ProvisionYear creates missing leave balances for every active user for year,
// allocated from each leave type's default days. Returns the number of rows created.
func (s *Scheduler) ProvisionYear(ctx context.Context, year int) (int, error) {
	ids, err := s.db.ActiveUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	err = s.db.Transaction(ctx, func(tx *database.DB) error {
		for _, id := range ids {
			n, err := tx.ProvisionLeaveBalances(ctx, id, year)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if total > 0 {
		log.Info().Int("year", year).Int("balances", total).Msg("Provisioned leave balances")
	}
	return total, nil
}
