package xfer

import (
	"fmt"

	"go.uber.org/zap"
)

// View is the zero-copy exposure of the head item's backing memory. The
// bytes alias the unit directly; the view is valid only until Unmap or
// Release tears the session down.
type View struct {
	data []byte
	item *Item
}

// Bytes returns the mapped payload. Never retained past the session.
func (v *View) Bytes() []byte {
	return v.data
}

// Len returns the mapped length, after any ceiling clamp.
func (v *View) Len() int {
	return len(v.data)
}

// Offset returns the logical offset of the mapped item.
func (v *View) Offset() int64 {
	return v.item.Offset
}

// mapHead opens the pipeline's single mapping session over the current
// head item.
//
// Returns (nil, nil) for a marker item: deliberately not an error, the
// consumer proceeds without inspecting memory and still releases the
// item. A head larger than one unit is ErrInvalidArgument; the session is
// never granted for it. Setup failure drops the speculative reference and
// leaves the item queued so the consumer may retry or release it
// uninspected.
func (p *Pipeline) mapHead() (*View, error) {
	// Session-wide exclusion. Held until unmap; a second caller blocks
	// here until the open session ends.
	p.sessionSem <- struct{}{}

	it := p.queue.head()
	if it == nil {
		<-p.sessionSem
		return nil, ErrNoData
	}
	if it.Marker() {
		<-p.sessionSem
		return nil, nil
	}
	if it.Size > p.pool.UnitSize() {
		<-p.sessionSem
		p.countError("map")
		return nil, fmt.Errorf("%w: item size %d exceeds unit size %d",
			ErrInvalidArgument, it.Size, p.pool.UnitSize())
	}

	it.unit.Retain()
	if p.mapHook != nil {
		if err := p.mapHook(); err != nil {
			it.unit.Release()
			<-p.sessionSem
			p.countError("map")
			return nil, fmt.Errorf("%w: mapping setup: %v", ErrFault, err)
		}
	}

	n := it.Size
	if p.cfg.MapCeiling > 0 && n > p.cfg.MapCeiling {
		p.logger.Warn("mapping request clamped to ceiling",
			zap.Int("size", it.Size),
			zap.Int("ceiling", p.cfg.MapCeiling),
		)
		n = p.cfg.MapCeiling
	}

	v := &View{data: it.unit.Bytes()[:n], item: it}

	p.stateMu.Lock()
	p.mapped = it
	p.view = v
	p.stateMu.Unlock()

	p.metrics.RecordMapOpen()
	p.logger.Debug("mapping session opened",
		zap.String("debug_id", it.DebugID.String()),
		zap.Int("len", n),
	)
	return v, nil
}

// unmap tears down the session opened by mapHead and drops the extra
// reference it took. The item stays queued; Release removes it.
func (p *Pipeline) unmap(v *View) error {
	if v == nil {
		return ErrInvalidArgument
	}

	p.stateMu.Lock()
	if p.view != v {
		p.stateMu.Unlock()
		return fmt.Errorf("%w: view is not the open mapping session", ErrInvalidArgument)
	}
	p.mapped = nil
	p.view = nil
	p.stateMu.Unlock()

	v.item.unit.Release()
	v.data = nil
	<-p.sessionSem

	p.metrics.RecordMapClose()
	return nil
}

// forceUnmap closes the active session if it targets it. Used by Release
// and Drain so removing the head cannot leave a dangling exposure.
func (p *Pipeline) forceUnmap(it *Item) {
	if it == nil {
		return
	}
	p.stateMu.Lock()
	if p.mapped != it {
		p.stateMu.Unlock()
		return
	}
	v := p.view
	p.mapped = nil
	p.view = nil
	p.stateMu.Unlock()

	v.item.unit.Release()
	v.data = nil
	<-p.sessionSem

	p.metrics.RecordMapClose()
	p.logger.Debug("mapping session force-closed",
		zap.String("debug_id", it.DebugID.String()),
	)
}

// readAt is the copying consumption path: it copies from the head item's
// memory into buf starting at pos, holding a reference only for the
// duration of the copy. The item is not removed.
func (p *Pipeline) readAt(buf []byte, pos int64) (int, error) {
	it := p.queue.head()
	if it == nil {
		return 0, ErrNoData
	}
	if it.Marker() {
		return 0, nil
	}
	if pos < 0 {
		return 0, ErrInvalidArgument
	}
	avail := int64(it.Size) - pos
	if avail <= 0 {
		return 0, nil
	}

	it.unit.Retain()
	n := copy(buf, it.unit.Bytes()[pos:])
	it.unit.Release()

	p.metrics.RecordCopyRead(n)
	return n, nil
}
