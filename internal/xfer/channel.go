package xfer

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tfslab/tfsd/internal/shared/id"
)

// Channel is the narrow operation set through which a consumer drives the
// queue: Count, Peek, Release, the mapping session, the copying ReadAt
// path, and readiness waiting. A channel is a handle: closing it makes
// every operation fail with ErrChannelUnavailable, and the consumer's
// recovery path opens a fresh handle against the same pipeline.
type Channel struct {
	id     id.ChannelID
	p      *Pipeline
	closed atomic.Bool
}

// OpenChannel opens a consumer control channel. Fails once the pipeline
// is closed.
func (p *Pipeline) OpenChannel() (*Channel, error) {
	if p.isClosed() {
		return nil, ErrChannelUnavailable
	}
	c := &Channel{
		id: id.NewChannelID(),
		p:  p,
	}
	p.logger.Info("control channel opened", zap.String("channel_id", c.id.String()))
	return c, nil
}

// ID returns the channel handle identity.
func (c *Channel) ID() id.ChannelID {
	return c.id
}

// Count returns the number of pending transfer items. Non-mutating; the
// consumer uses it to decide whether to wait.
func (c *Channel) Count() (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	return c.p.Count(), nil
}

// Peek returns head metadata without removing the item or granting
// memory access. ErrNoData when the queue is empty.
func (c *Channel) Peek() (Info, error) {
	if err := c.valid(); err != nil {
		return Info{}, err
	}
	it := c.p.queue.head()
	if it == nil {
		return Info{}, ErrNoData
	}
	return it.info(), nil
}

// Release removes exactly the head item. The only mutating consumer
// operation. Safe on marker items. An active mapping session on the head
// is forced closed first.
func (c *Channel) Release() error {
	if err := c.valid(); err != nil {
		return err
	}
	return c.p.release()
}

// Map opens the mapping session over the head item. A nil view with nil
// error means the head is a marker: proceed without inspecting memory.
func (c *Channel) Map() (*View, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	return c.p.mapHead()
}

// Unmap tears down the exposure and drops the session's reference. It
// does not remove the item; Release does that separately.
func (c *Channel) Unmap(v *View) error {
	if err := c.valid(); err != nil {
		return err
	}
	return c.p.unmap(v)
}

// ReadAt copies from the head item into buf starting at pos. The
// duplicating alternative to Map, behind the same contract.
func (c *Channel) ReadAt(buf []byte, pos int64) (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	return c.p.readAt(buf, pos)
}

// Wait blocks until the producer signals readiness or the timeout
// elapses. Spurious wakeups are permitted; callers re-check Count.
func (c *Channel) Wait(timeout time.Duration) bool {
	if c.closed.Load() {
		return false
	}
	return c.p.queue.Wait(timeout)
}

// Healthy reports whether the handle is still usable. The consumer's
// periodic self-check calls this.
func (c *Channel) Healthy() bool {
	return !c.closed.Load() && !c.p.isClosed()
}

// Close invalidates the handle. The pipeline and its queue are
// unaffected.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.p.logger.Info("control channel closed", zap.String("channel_id", c.id.String()))
	return nil
}

func (c *Channel) valid() error {
	if c.closed.Load() || c.p.isClosed() {
		return ErrChannelUnavailable
	}
	return nil
}
