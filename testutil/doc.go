// Package testutil provides test doubles and fixtures for acmistream tests.
//
// # ACMIServer
//
// ACMIServer is an in-process Tacview real-time telemetry server on a
// loopback port. For every accepted connection it reads the client handshake
// up to its NUL terminator, records it, writes the server greeting and then
// replays a scripted list of lines:
//
//	srv := testutil.NewACMIServer(t,
//	    testutil.WithScript(testutil.FixtureLines()...), // first connection
//	    testutil.WithScript(testutil.FixtureHeader...),  // every later one
//	)
//	cfg.Tacview.Host, cfg.Tacview.Port = srv.Host(), srv.Port()
//
// By default a connection closes once its script is written, which the
// client observes as a lost connection. WithHoldOpen keeps it open and silent
// so read timeouts can be exercised, and DropAll cuts every connection while
// the listener stays up. FreeAddr and NewACMIServerAt start a server on an
// address that was dialled before anything listened there.
//
// # MockPublisher
//
// MockPublisher records JetStream publishes per subject, in order, and keeps
// a last-writer-wins KV map. FailNext injects one publish error.
// WaitForMessageCount and WaitFor poll with a timeout.
//
// # Fixtures
//
// FixtureHeader and FixtureBody script a short engagement with a launcher,
// a target, a missile with a known parent and impactor, and a flare.
// MalformedLines holds lines the decoder must skip without stopping.
package testutil
