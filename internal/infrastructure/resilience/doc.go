// Package resilience implements the circuit breaker that drives the
// consumer daemon's recovery behavior.
//
// The breaker counts consecutive control-channel failures. When the
// count reaches the configured threshold the breaker opens, which the
// daemon treats as the signal to reopen its channel handle. After the
// open timeout a half-open probe is admitted; success closes the breaker
// again. Keeping the counter and timer here, behind an explicit state
// machine, makes the recovery path testable independent of the channel
// implementation.
package resilience
