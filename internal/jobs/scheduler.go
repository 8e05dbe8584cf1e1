package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// IdleCloser closes views untouched since cutoff; *gallery.Registry
// satisfies it.
type IdleCloser interface {
	CloseIdle(cutoff time.Time) int
	Len() int
}

type Scheduler struct {
	cron    *cron.Cron
	views   IdleCloser
	idleTTL time.Duration
	spec    string
	log     zerolog.Logger
	now     func() time.Time
}

func NewScheduler(views IdleCloser, spec string, idleTTL time.Duration, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{
		cron:    c,
		views:   views,
		idleTTL: idleTTL,
		spec:    spec,
		log:     log,
		now:     time.Now,
	}
}

func (s *Scheduler) Start() error {
	if s.views == nil || s.idleTTL <= 0 {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.SweepIdleViews); err != nil {
		return fmt.Errorf("schedule view sweep %q: %w", s.spec, err)
	}

	s.cron.Start()
	return nil
}

// Stop waits at most five seconds for a running sweep.
func (s *Scheduler) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("view sweep still running at shutdown")
	}
}

// SweepIdleViews closes gallery views nobody touched within the idle TTL.
func (s *Scheduler) SweepIdleViews() {
	closed := s.views.CloseIdle(s.now().Add(-s.idleTTL))
	if closed == 0 {
		return
	}
	s.log.Info().
		Int("closed", closed).
		Int("open", s.views.Len()).
		Dur("idle_ttl", s.idleTTL).
		Msg("idle gallery views closed")
}
