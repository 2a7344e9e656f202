package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Aidin1998/amlwatch/internal/queue"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"go.uber.org/zap"
)

// Worker pulls job IDs off the queue and runs them one at a time
type Worker struct {
	id     string
	orch   *Orchestrator
	logger *zap.SugaredLogger
	wg     *sync.WaitGroup
}

func newWorker(id string, orch *Orchestrator) *Worker {
	return &Worker{
		id:     id,
		orch:   orch,
		logger: orch.logger.With("worker_id", id, "worker_type", "job"),
		wg:     &orch.workerWG,
	}
}

func (w *Worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.processLoop(ctx)
	w.logger.Info("Job worker started")
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("Job worker panic recovered", "panic", r, "stack", string(debug.Stack()))
			// restart after a brief delay unless shutting down
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
				w.wg.Add(1)
				go w.processLoop(ctx)
			}
		}
	}()

	for {
		jobID, err := w.orch.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.logger.Info("Job worker stopped")
				return
			}
			w.logger.Warnw("Failed to dequeue job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// in-flight jobs run to completion even while stopping
		if err := w.orch.Process(context.Background(), jobID); err != nil {
			if errors.Is(err, store.ErrJobTransition) || errors.Is(err, store.ErrJobNotFound) {
				w.logger.Warnw("Skipping job", "job_id", jobID, "error", err)
				continue
			}
			w.logger.Errorw("Job processing failed", "job_id", jobID, "error", err)
		}
	}
}

// Start launches the worker pool and the orphan sweep
func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	for i := 0; i < o.cfg.Workers; i++ {
		w := newWorker(fmt.Sprintf("job-worker-%d", i), o)
		o.workers = append(o.workers, w)
		w.start(ctx)
	}
	if o.cfg.SweepInterval > 0 && o.cfg.OrphanTTL > 0 {
		o.workerWG.Add(1)
		go o.sweepLoop(ctx)
	}
	o.logger.Infow("Job orchestrator started", "workers", o.cfg.Workers, "orphan_ttl", o.cfg.OrphanTTL)
}

// Stop stops dequeuing, waits for running jobs and pending explanations
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		o.workerWG.Wait()
		o.background.Wait()
		o.logger.Info("Job orchestrator stopped")
	})
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.workerWG.Done()
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepOrphans(ctx); err != nil {
				o.logger.Errorw("Orphan sweep failed", "error", err)
			}
		}
	}
}
