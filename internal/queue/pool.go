package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/taskhive/hookbridge/internal/domain"
)

// Pool runs a fixed number of worker goroutines that fan events out. Each
// worker processes one event at a time; concurrency across recipients of a
// single event is the dispatcher's job.
type Pool struct {
	numWorkers int
	jobs       chan domain.Event
	process    func(ctx context.Context, event domain.Event)
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, process func(ctx context.Context, event domain.Event), logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan domain.Event, numWorkers*2),
		process:    process,
		logger:     logger,
	}
}

// Start launches the workers. They drain the jobs channel until it closes;
// ctx cancellation stops them from picking up further events while letting
// the event in hand finish its current attempt.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands an event to the pool, blocking when all workers are busy
// and the buffer is full.
func (p *Pool) Submit(event domain.Event) {
	p.jobs <- event
}

// Stop closes the jobs channel and waits for the workers to drain it.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for event := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.process(ctx, event)
		}
	}
}
