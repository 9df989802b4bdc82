package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PaymentCollector is implemented by the service layer.
type PaymentCollector interface {
	ProcessDuePayments(ctx context.Context) error
}

// Scheduler runs the daily loan payment collection.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Logger
}

// New builds a scheduler that collects due loan payments every morning.
func New(collector PaymentCollector, log *logrus.Logger) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc("0 9 * * *", func() {
		log.Info("Collecting due loan payments")
		if err := collector.ProcessDuePayments(context.Background()); err != nil {
			log.Errorf("Payment collection failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, log: log}, nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Payment scheduler started")
}

// Stop waits for a running job to finish and stops the loop.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
