// Package heartbeat sends a periodic notification to the heartbeat channel
// so downstream clients can verify the delivery path end to end. Heartbeats
// are dispatched without persisting history records.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/herald-notify/herald/internal/channels"
	"github.com/herald-notify/herald/internal/notifications"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// everyMinute fires at the top of each minute.
const everyMinute = "* * * * *"

var errMissingDispatcher = errors.New("heartbeat: dispatcher is required")

// ServiceConfig describes the heartbeat sender dependencies.
type ServiceConfig struct {
	Dispatcher *notifications.Service
	TenantID   string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns the cron schedule driving heartbeat sends.
type Service struct {
	dispatcher *notifications.Service
	tenantID   string
	clock      func() time.Time
	logger     *zap.Logger
	cron       *cron.Cron
}

// NewService constructs the heartbeat sender.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dispatcher: cfg.Dispatcher,
		tenantID:   cfg.TenantID,
		clock:      clock,
		logger:     logger,
		cron:       cron.New(),
	}, nil
}

// Start schedules the minute heartbeat and launches the cron runner.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(everyMinute, func() {
		s.beat(ctx)
	})
	if err != nil {
		return fmt.Errorf("heartbeat: schedule: %w", err)
	}
	s.cron.Start()
	s.logger.Info("heartbeat sender started", zap.String("tenant", s.tenantID))
	return nil
}

// Stop halts the schedule and waits for an in-flight beat to finish.
func (s *Service) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("heartbeat sender stopped")
}

func (s *Service) beat(ctx context.Context) {
	_, err := s.dispatcher.SendToChannels(ctx, notifications.ChannelSend{
		TenantID:   s.tenantID,
		ChannelIDs: []string{channels.HeartbeatChannelID},
		Title:      "HeartBeat",
		Body:       fmt.Sprintf("Current time: %s", s.clock().UTC().Format(time.RFC3339)),
		Sender:     "heartbeat",
		Persist:    false,
	})
	if err != nil {
		s.logger.Warn("heartbeat send failed", zap.Error(err))
	}
}
