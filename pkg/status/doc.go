// Package status provides the persistent status indicator for mount runs and
// the sinks that display it.
//
// The indicator lives in a single slot keyed by IndicatorID. Every update is
// a full replacement of that slot; nothing in this package deletes it.
//
// # Logging Verbosity Convention
//
//   - V(2): Production default - indicator transitions
//   - V(4): Debug level - per-sink writes, breaker state
//
// Sink failures are logged as warnings and returned to the caller, which
// treats them as degraded but non-fatal.
package status
