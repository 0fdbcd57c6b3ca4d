// Package xfer implements the zero-copy transfer pipeline: a FIFO queue of
// payload items moving from a privileged write path to an unprivileged
// consumer without duplicating the backing memory.
//
// The pipeline has three actors:
//   - Producers call Pipeline.Write to enqueue a payload. In zero-copy mode
//     the caller's buffer is pinned in place; in copy mode a fresh unit is
//     taken from the pool and filled.
//   - A consumer drives the queue through a Channel: Count, Peek, Release,
//     plus the copying ReadAt path.
//   - A mapping session (Channel.Map/Unmap) exposes the head item's unit
//     directly to the consumer. At most one session is open at a time.
//
// Ownership of backing memory is a single reference count: +1 at pin or
// copy, +1 while a mapping session is open, -1 at unmap, -1 at release.
// The unit is reclaimed exactly when the count reaches zero, which
// coincides with Release completing for that item.
package xfer
