// Package worker provides a small generic worker pool.
//
// The monitor uses it to hand metric snapshots and alert notifications to
// their collaborators without waiting on them: Submit never blocks, a full
// queue drops the item, and each task can be bounded by a timeout. A task
// that panics is recovered and counted as failed, so one misbehaving
// collaborator cannot take a worker down.
//
//	pool := worker.NewPool(2, 64, func(ctx context.Context, job Job) error {
//	    return job.Run(ctx)
//	}, worker.WithTaskTimeout[Job](10*time.Second))
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(job); errors.Is(err, worker.ErrQueueFull) {
//	    logger.Warn("Dropped job", "error", err)
//	}
//
// Statistics are always collected (Stats). Prometheus metrics are registered
// when WithMetricsRegistry is given.
package worker
