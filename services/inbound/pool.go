package inbound

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rostergate/rostergate/services/router"
	log "github.com/sirupsen/logrus"
)

var ErrPoolStopped = errors.New("inbound pool is stopped")

type Handler interface {
	Handle(ctx context.Context, msg router.Message) router.Response
}

// ReplyFunc delivers the router's response back over the transport the
// message arrived on.
type ReplyFunc func(ctx context.Context, res router.Response) error

type Job struct {
	Message router.Message
	Reply   ReplyFunc
}

// Pool runs messages through the router on a fixed set of workers.
// Messages from one chat identity always land on the same worker, so
// they are handled in arrival order.
type Pool struct {
	// queues feed the workers; a job's queue is picked by chat identity.
	queues []chan Job

	handler    Handler
	deliveries DeliveryLog

	replyTimeout time.Duration

	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(handler Handler, deliveries DeliveryLog, workers int, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		queues:       make([]chan Job, workers),
		handler:      handler,
		deliveries:   deliveries,
		replyTimeout: 10 * time.Second,
		stopped:      make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueSize)
	}
	return p
}

// Run starts the workers and blocks until ctx is cancelled. Messages
// already being handled are allowed to finish.
func (p *Pool) Run(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.work(ctx, i, q)
	}

	<-ctx.Done()
	p.Stop()
	p.wg.Wait()
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
}

// Submit queues a job. It blocks while the worker's queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	q := p.queues[p.shard(job.Message.ChatIdentity)]
	select {
	case q <- job:
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) shard(chatIdentity string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatIdentity))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) work(ctx context.Context, n int, q chan Job) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopped:
			return
		case job := <-q:
			p.process(context.WithoutCancel(ctx), n, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, worker int, job Job) {
	msg := job.Message
	logger := log.WithFields(log.Fields{
		"context": "inbound",
		"worker":  worker,
		"team":    msg.TeamID,
		"message": msg.ID,
	})

	if p.deliveries != nil && msg.ID != "" {
		first, err := p.deliveries.TryClaim(ctx, msg.ID)
		if err != nil {
			logger.WithError(err).Warn("delivery log unavailable, handling message anyway")
		} else if !first {
			logger.Debug("duplicate delivery skipped")
			return
		}
	}

	res := p.handler.Handle(ctx, msg)
	logger.WithFields(log.Fields{
		"state":  res.State,
		"action": res.Action,
	}).Debug("message handled")

	if job.Reply == nil || res.Text == "" {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, p.replyTimeout)
	defer cancel()
	if err := job.Reply(rctx, res); err != nil {
		logger.WithError(err).Error("failed to deliver reply")
	}
}
