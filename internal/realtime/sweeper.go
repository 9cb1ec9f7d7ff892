package realtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/tandem/pkg/models"
)

// Sweeper periodically expires stale editing claims of users that no longer
// hold a connection. A connected editor keeps its claim until it stops
// editing or disconnects, however long the edit takes.
type Sweeper struct {
	cron     *cron.Cron
	ttl      time.Duration
	tracker  *EditingTracker
	onExpire func([]models.EditingStatus)
	logger   *slog.Logger
	now      func() time.Time

	// connected snapshots the users with a live connection. Nil treats
	// every user as disconnected.
	connected func() map[string]bool
}

// NewSweeper schedules a sweep on a standard cron spec such as "@every 30s".
func NewSweeper(schedule string, ttl time.Duration, tracker *EditingTracker, onExpire func([]models.EditingStatus), logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:     cron.New(),
		ttl:      ttl,
		tracker:  tracker,
		onExpire: onExpire,
		logger:   logger,
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep expires stale claims once and returns them.
func (s *Sweeper) Sweep() []models.EditingStatus {
	// Snapshot before taking the tracker lock; the gateway takes its own
	// lock before the tracker's.
	var live map[string]bool
	if s.connected != nil {
		live = s.connected()
	}
	expired := s.tracker.Expire(s.now().Add(-s.ttl), func(userID string) bool { return live[userID] })
	if len(expired) == 0 {
		return nil
	}
	s.logger.Info("expired stale editing claims", "count", len(expired))
	if s.onExpire != nil {
		s.onExpire(expired)
	}
	return expired
}
