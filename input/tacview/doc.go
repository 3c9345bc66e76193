// Package tacview is the TCP client for the Tacview real-time telemetry
// protocol.
//
// A Client dials the server, sends the four line handshake terminated by a
// NUL byte, and waits for the server's first handshake line. After that,
// ReadLine returns one logical ACMI line at a time. Physical lines that end
// in a backslash are joined with the next one.
//
// Connection failures never end the client. Connect and Reconnect retry with
// a fixed delay until they succeed or their context is cancelled. ReadLine
// reports a read timeout, EOF or a closed socket as errors.ErrConnectionLost,
// wrapped as transient, so the caller knows to reset its state and call
// Reconnect.
//
// When tacview.capture_path is set every received line is appended to that
// file, so a session can be replayed later.
package tacview
