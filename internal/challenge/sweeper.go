package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires unconsumed challenges on a cron cadence.
type Sweeper struct {
	broker   *Broker
	schedule cron.Schedule
	logger   *slog.Logger
}

func NewSweeper(broker *Broker, spec string, logger *slog.Logger) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse challenge sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{broker: broker, schedule: schedule, logger: logger}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s.broker.ttl <= 0 {
		s.logger.Info("challenge sweeper disabled, no ttl configured")
		<-ctx.Done()
		return nil
	}
	s.logger.Info("challenge sweeper started", "ttl", s.broker.ttl.String())
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("challenge sweeper stopped")
			return nil
		case now := <-timer.C:
			s.broker.Sweep(now)
		}
	}
}
