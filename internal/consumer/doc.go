// Package consumer implements the daemon that drains the transfer
// pipeline: it polls or blocks on readiness, drives the control channel
// (count, peek, release), inspects payloads through zero-copy mapping
// sessions or the copying read path, and recovers from channel failures
// by reopening the handle.
//
// The daemon is an explicit state machine. Every control operation runs
// through a circuit breaker; when consecutive failures reach the
// configured threshold the daemon reopens its channel and resets the
// breaker, and repeated reopen failure terminates the loop cleanly. A
// periodic self-check validates the handle and reports health.
package consumer
