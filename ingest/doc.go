// Package ingest runs the ACMI ingestion loop.
//
// A Pipeline reads logical lines from a Source (normally a tacview.Client),
// decodes them, applies them to the reference context and the object
// tracker, runs parent and impactor attribution, and queues the resulting
// rows on a batch.Writer. Every time-offset frame seals the rows of the
// elapsed tick into one batch.
//
// Stopping
//
// Run returns when its context is cancelled, when ingest.max_iterations
// lines have been read, or when the batch writer fails under the abort
// policy. On every path the writer is closed with a fresh context bounded by
// batch.shutdown_grace so rows already read are written.
//
// Lost connections
//
// A transient read error ends the session: pending rows are flushed and
// drained, then the decoder, reference context and tracker are reset and the
// source reconnects. The next reference frames open a new session.
//
// Frames that arrive before the reference origin is known are dropped and
// counted under frames_dropped_total{reason="no_reference"}.
package ingest
