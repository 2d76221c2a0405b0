package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Expirer moves invitations past their expiry to EXPIRED.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Sweeper periodically expires stale invitations so listings stay
// accurate. Consumption checks expiry on its own and does not depend on
// the sweeper having run.
type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	timeout time.Duration
}

func New(expirer Expirer, schedule string, timeout time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(),
		expirer: expirer,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}

func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"context": "sweeper",
			"expired": n,
		}).Error("invitation sweep failed")
		return n, err
	}
	if n > 0 {
		log.WithFields(log.Fields{
			"context": "sweeper",
			"expired": n,
		}).Info("expired stale invitations")
	}
	return n, nil
}
