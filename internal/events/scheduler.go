package events

import (
	"context"
	"fmt"
	"sync"

	rcron "github.com/robfig/cron/v3"

	"workdesk/internal/logging"
)

// Scheduler runs a Relay on a cron spec. Runs never overlap.
type Scheduler struct {
	mu      sync.Mutex
	cron    *rcron.Cron
	relay   Relay
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewScheduler(spec string, relay Relay, logger logging.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger))),
		relay:  relay,
		logger: logging.Or(logger),
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("outbox schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if _, err := s.relay.RunOnce(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Error("outbox relay: %v", err)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels the running relay and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}
