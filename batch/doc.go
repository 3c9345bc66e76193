// Package batch collects the rows the ingestion loop produces for one tick and
// hands them, sealed, to a background flush worker.
//
// The ingestion goroutine owns the pending collections. Creates bypass them
// and are written synchronously, so an object row always exists before any
// batch updates it. Tick seals everything else into an immutable
// storage.Batch and writes it to a bounded queue; the worker drains the
// queue strictly in order, one batch at a time.
//
// Failure handling is configured with batch.failure_policy:
//   - retry: keep the batch and retry with exponential backoff until it is
//     written, a fatal error occurs, or the worker context ends
//   - abort: stop at the first failure and report it from Err and Close
//
// Example:
//
//	w, err := batch.NewWriter(cfg.Batch, sink, batch.Deps{Logger: logger})
//	w.Start(ctx)
//	w.CreateSession(ctx, session)
//	w.EnqueueCreate(ctx, rec)
//	w.EnqueueUpdate(rec)
//	w.Tick(ctx, session)
//	err = w.Close(shutdownCtx)
package batch
