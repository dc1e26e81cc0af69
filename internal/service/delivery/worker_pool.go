package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

// WorkerPool fans message processing out over a fixed set of workers and
// owns the timers that re-enter blocked and retry_scheduled messages once
// their timestamps pass. One message is only ever in flight on one worker;
// re-entry goes through the same queue.
type WorkerPool struct {
	engine  *Service
	queue   chan uuid.UUID
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer

	wg      sync.WaitGroup
	started bool
	cancel  context.CancelFunc
}

// NewWorkerPool creates a pool; Start must be called before Enqueue
func NewWorkerPool(engine *Service, workers, queueSize int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WorkerPool{
		engine:  engine,
		queue:   make(chan uuid.UUID, queueSize),
		workers: workers,
		logger:  logger,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// Start launches the workers
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Stop cancels pending timers and waits for in-flight work to finish
func (p *WorkerPool) Stop() {
	if !p.started {
		return
	}
	p.mu.Lock()
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Depth reports the number of queued messages
func (p *WorkerPool) Depth() int {
	return len(p.queue)
}

// Enqueue queues a message for immediate processing
func (p *WorkerPool) Enqueue(messageID uuid.UUID) bool {
	select {
	case p.queue <- messageID:
		if p.engine.metrics != nil {
			p.engine.metrics.SetQueueDepth(int64(len(p.queue)))
		}
		return true
	default:
		p.logger.Warn("delivery queue full, message deferred",
			zap.String("message_id", messageID.String()))
		return false
	}
}

// EnqueueAt queues the message once the wall clock reaches at. Scheduling a
// message that already has a pending timer replaces the timer.
func (p *WorkerPool) EnqueueAt(at time.Time, messageID uuid.UUID) {
	delay := time.Until(at)
	if delay <= 0 {
		p.Enqueue(messageID)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.timers[messageID]; ok {
		prev.Stop()
	}
	p.timers[messageID] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, messageID)
		p.mu.Unlock()
		p.Enqueue(messageID)
	})
}

func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.process(ctx, id)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, id uuid.UUID) {
	msg, err := p.engine.Process(ctx, id)
	if err != nil {
		p.logger.Error("processing message failed",
			zap.String("message_id", id.String()), zap.Error(err))
	}
	if msg == nil {
		return
	}

	switch msg.Status {
	case messaging.StatusBlocked:
		if msg.NextAllowedAt != nil {
			p.EnqueueAt(*msg.NextAllowedAt, msg.ID)
		}
	case messaging.StatusRetryScheduled:
		if msg.NextRetryAt != nil {
			p.EnqueueAt(*msg.NextRetryAt, msg.ID)
		}
	}
}

// Recover reloads due messages from storage into the queue, for process
// restart. Messages blocked or retry_scheduled further in the future get
// their timers rebuilt.
func (p *WorkerPool) Recover(ctx context.Context, horizon time.Duration, limit int) error {
	due, err := p.engine.messages.ListDue(ctx, time.Now().Add(horizon), limit)
	if err != nil {
		return err
	}
	for _, msg := range due {
		switch msg.Status {
		case messaging.StatusPending:
			p.Enqueue(msg.ID)
		case messaging.StatusBlocked:
			if msg.NextAllowedAt != nil {
				p.EnqueueAt(*msg.NextAllowedAt, msg.ID)
			}
		case messaging.StatusRetryScheduled:
			if msg.NextRetryAt != nil {
				p.EnqueueAt(*msg.NextRetryAt, msg.ID)
			}
		}
	}
	p.logger.Info("recovered pending messages", zap.Int("count", len(due)))
	return nil
}
