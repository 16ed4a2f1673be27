// Package async runs background work with panic recovery and timeouts.
//
// SafeGo is for one-off tasks. WorkerPool bounds concurrency for a stream of
// tasks; TrySubmit never blocks, so request paths can hand off work such as
// audit publication without waiting on slow sinks.
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "audit", 5*time.Second)
//	defer pool.Shutdown(shutdownCtx)
//	_ = pool.TrySubmit(func(ctx context.Context) error {
//	    return publisher.Publish(ctx, event)
//	})
package async
