// Package storage defines where ingested telemetry ends up.
//
// A Sink persists the four entities of a session: the session row, one
// object row per tracked id, an append-only event per applied frame, and an
// impact per attributed munition strike. Implementations live in the
// subpackages:
//   - postgres: lib/pq with a COPY bulk path and a per-record fallback
//   - sqlite:   zombiezen.com/go/sqlite with WAL and immediate transactions
//   - memory:   slices and maps, for tests and dry runs
//
// Fanout composes a primary Sink with mirrors such as the NATS egress in
// output/natssink.
package storage
