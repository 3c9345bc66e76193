// Package acmistream ingests Tacview ACMI real-time telemetry.
//
// The service connects to a Tacview real-time telemetry server over TCP,
// rebuilds the live object model from the delta-encoded ACMI stream, infers
// which platform launched each munition and what it struck, and persists
// sessions, objects, events and impacts.
//
// # Architecture
//
//	tacview.Client ──lines──▶ acmi.Decoder ──frames──▶ acmi.ReferenceContext
//	                                                  ▼
//	                      attribution.Engine ◀──── tracker.Store
//	                                                  ▼
//	                                            batch.Writer ──batches──▶ storage.Sink
//	                                                                        ├─ storage/postgres
//	                                                                        ├─ storage/sqlite
//	                                                                        ├─ storage/memory
//	                                                                        └─ output/natssink (mirror)
//
// ingest.Pipeline owns everything to the left of the batch writer and runs
// on a single goroutine. The writer hands sealed batches to one background
// flush worker. cmd/acmistream composes the pipeline, the writer and the
// metrics server with an errgroup and stops them on SIGINT or SIGTERM.
//
// # Packages
//
//   - acmi: line decoder, frame types, reference context and logical clock
//   - model: Session, ObjectRecord, Event and Impact
//   - geo: WGS-84 to ECEF conversion and distances
//   - tracker: the per-session object store
//   - attribution: parent and impactor search
//   - input/tacview: connection, handshake and line framing
//   - batch: tick batching and the flush worker
//   - storage: the Sink interface, Fanout, and the postgres, sqlite and memory stores
//   - output/natssink: JetStream egress and the KV object snapshot
//   - ingest: the ingestion loop and its statistics
//   - config, errors, metric, natsclient, pkg/buffer, pkg/retry: shared infrastructure
//   - testutil: the scripted ACMI test server, fixtures and a NATS publisher mock
//
// # Configuration
//
// Configuration is layered: built-in defaults, then JSON or YAML files,
// then ACMISTREAM_* environment variables, then command-line flags. See
// package config.
package acmistream
