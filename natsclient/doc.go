// Package natsclient manages the NATS connection used for JetStream egress.
//
// A Client owns one connection and its JetStream context. It tracks the
// connection status through the nats.go lifecycle handlers (Disconnected ->
// Connecting -> Connected -> Reconnecting -> Connected) and exposes the small
// set of operations the telemetry sink needs:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "ACMI",
//	    Subjects: []string{"acmi.>"},
//	})
//	err = client.PublishToStream(ctx, "acmi.<uuid>.event", payload)
//
// KV buckets are obtained with CreateKeyValueBucket, which returns an existing
// bucket when present, and wrapped in a KVStore for timeout-bounded
// last-writer-wins puts and JSON helpers.
//
// Errors from connection state checks and JetStream calls are classified with
// the errors package: not-connected and broker failures are transient, bad
// arguments are invalid, and use after Close is fatal.
//
// NewTestClient starts a disposable NATS container through testcontainers-go
// for integration tests.
package natsclient
