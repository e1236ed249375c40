package moderation

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/models"
)

const expiredReason = "Punishment expired"

type dueLister interface {
	ListDue(ctx context.Context, now time.Time) iter.Seq2[*models.ActivePunishment, error]
}

type reverser interface {
	Reverse(ctx context.Context, req ReverseRequest) Result
}

type TickStats struct {
	Due             int
	Reversed        int
	AlreadyReversed int
	Failed          int
}

// Scheduler reverses timed punishments once they are due. Ticks never
// overlap: a tick that fires while the previous one is still running is
// skipped.
type Scheduler struct {
	due      dueLister
	reverser reverser
	actorID  uuid.UUID
	interval time.Duration
	ticking  atomic.Bool
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewScheduler builds a scheduler. actorID is recorded as the actor of
// automatic reversals.
func NewScheduler(due dueLister, r reverser, actorID uuid.UUID, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		due:      due,
		reverser: r,
		actorID:  actorID,
		interval: interval,
		now:      time.Now,
	}
}

// Ticking reports whether a tick is in flight.
func (s *Scheduler) Ticking() bool {
	return s.ticking.Load()
}

// Tick processes every row due at now. ran is false when another tick was
// still in flight and this one was skipped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (stats TickStats, ran bool) {
	if !s.ticking.CompareAndSwap(false, true) {
		log.Debug().Msg("Previous expiry tick still running, skipping")
		return stats, false
	}
	defer s.ticking.Store(false)

	for ap, err := range s.due.ListDue(ctx, now) {
		if err != nil {
			log.Error().Err(err).Msg("Failed to list due punishments")
			break
		}
		stats.Due++

		res := s.reverser.Reverse(ctx, ReverseRequest{
			Punishment: ap,
			ActorID:    s.actorID,
			Reason:     expiredReason,
			Automatic:  true,
		})
		switch {
		case res.Succeeded():
			stats.Reversed++
		case res.Code == CodeAlreadyReversed:
			stats.AlreadyReversed++
		default:
			stats.Failed++
		}

		if ctx.Err() != nil {
			break
		}
	}

	if stats.Due > 0 {
		log.Info().
			Int("due", stats.Due).
			Int("reversed", stats.Reversed).
			Int("alreadyReversed", stats.AlreadyReversed).
			Int("failed", stats.Failed).
			Msg("Expiry tick finished")
	}
	return stats, true
}

// Run ticks every interval until ctx is done, then waits for the tick in
// flight. Punishments expire up to one interval late, never early.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Expiry scheduler started")
	s.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("Expiry scheduler stopped")
			return
		case <-ticker.C:
			s.spawn(ctx)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	if s.Ticking() {
		log.Debug().Msg("Previous expiry tick still running, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(ctx, s.now())
	}()
}
