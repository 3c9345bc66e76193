// Package errors provides the error classification used across acmistream.
//
// # Overview
//
// Every error that crosses a component boundary is wrapped with the component and
// operation that produced it and tagged with one of three classes:
//
//   - Transient: the TCP feed dropped, a read timed out, the store is briefly
//     unavailable. The caller reconnects or retries.
//   - Invalid: a wire token, line or time offset could not be decoded. The caller
//     skips that token or line and keeps streaming.
//   - Fatal: configuration is wrong or the store rejected a batch for good. The
//     caller stops with pending data intact.
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the classification-aware helpers at the point where the class is known:
//
//	if err := conn.SetReadDeadline(deadline); err != nil {
//	    return errors.WrapTransient(err, "tacview-client", "ReadLine", "set deadline")
//	}
//
//	if _, err := strconv.ParseInt(token, 16, 64); err != nil {
//	    return errors.WrapInvalid(errors.ErrMalformedID, "acmi-decoder", "Decode", "id parse")
//	}
//
// Wrap without a class keeps whatever classification the wrapped error carries.
//
// # Classification
//
// IsTransient, IsInvalid and IsFatal look first for a ClassifiedError in the chain
// and then fall back to the package sentinels. Network timeouts (net.Error with
// Timeout() true), io.EOF and a handful of well known dial failures are transient
// so a stalled or reset Tacview server turns into a reconnect. Classify defaults
// unknown errors to transient so no work is dropped on an unexpected failure.
//
// The package re-exports Is, As, New and Join so callers importing this package
// under the name errors do not also need the standard library package.
package errors
