package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/derekatbrim/ranger/internal/models"
)

// ProcessFunc resolves a single report. Errors are counted and logged; the
// report stays pending in the store, so a later sweep retries it.
type ProcessFunc func(ctx context.Context, report *models.Report) error

// Pool fans incoming reports out to a fixed set of resolution workers.
type Pool struct {
	numWorkers int
	jobs       chan *models.Report
	processor  ProcessFunc
	failures   atomic.Int64
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, bufferSize int, processor ProcessFunc) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan *models.Report, bufferSize),
		processor:  processor,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.processor(ctx, report); err != nil {
				p.failures.Add(1)
				slog.Error("report resolution failed", "worker", id, "report_id", report.ID, "error", err)
			}
		}
	}
}

func (p *Pool) Submit(report *models.Report) {
	p.jobs <- report
}

// Failures returns the number of reports whose processing returned an error.
func (p *Pool) Failures() int64 {
	return p.failures.Load()
}

func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
