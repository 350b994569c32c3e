package notifications

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Sweeper periodically removes read notifications past the retention window.
type Sweeper struct {
	service   *Service
	logger    *zap.Logger
	retention time.Duration
	scheduler gocron.Scheduler
}

// NewSweeper constructs the retention sweeper. retentionDays bounds how long
// read notifications are kept.
func NewSweeper(service *Service, retentionDays int, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		service:   service,
		logger:    logger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		scheduler: scheduler,
	}, nil
}

// Start schedules the hourly sweep and returns immediately.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(s.sweep),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.retention)
	removed, err := s.service.PurgeExpired(context.Background(), cutoff)
	if err != nil {
		s.logger.Warn("notification sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("notification sweep removed rows", zap.Int64("count", removed))
	}
}
