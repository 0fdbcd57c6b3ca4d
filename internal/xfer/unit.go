package xfer

import (
	"sync"
	"sync/atomic"
)

// DefaultUnitSize is the size of one memory unit. A transfer item never
// spans more than one unit; writes are clamped at the unit boundary.
const DefaultUnitSize = 4096

// Unit is one physical memory unit backing a transfer item. Its lifetime
// is governed by an explicit reference count: 1 at creation (pin or copy),
// +1 while a mapping session is open, -1 at unmap, -1 at release. The
// backing bytes are reclaimed exactly when the count reaches zero.
type Unit struct {
	buf    []byte
	length int
	pinned bool
	pool   *UnitPool

	refs int32
}

// Bytes returns the payload bytes. The slice aliases the unit's backing
// memory; callers must hold a reference while using it.
func (u *Unit) Bytes() []byte {
	return u.buf[:u.length]
}

// Len returns the payload length in bytes.
func (u *Unit) Len() int {
	return u.length
}

// Pinned reports whether the unit adopted caller memory (zero-copy mode)
// rather than owning a pooled allocation.
func (u *Unit) Pinned() bool {
	return u.pinned
}

// Refs returns the current reference count. Diagnostics only.
func (u *Unit) Refs() int32 {
	return atomic.LoadInt32(&u.refs)
}

// Retain increments the reference count. Called when a mapping session
// takes an additional reference on the unit.
func (u *Unit) Retain() {
	atomic.AddInt32(&u.refs, 1)
}

// Release decrements the reference count and reclaims the unit when it
// reaches zero. Pooled units return to their pool; pinned units just drop
// the caller's memory.
func (u *Unit) Release() {
	if atomic.AddInt32(&u.refs, -1) > 0 {
		return
	}
	if u.pool != nil {
		u.pool.put(u)
	}
	u.buf = nil
	u.length = 0
}

// UnitPool hands out fixed-size memory units for copy-mode transfers and
// tracks how many units are outstanding. The outstanding count is the
// resource snapshot used to verify that a full enqueue/map/unmap/release
// cycle leaks nothing.
type UnitPool struct {
	unitSize int
	maxUnits int64

	pool        sync.Pool
	outstanding int64
}

// NewUnitPool creates a pool of unitSize-byte units. maxUnits bounds the
// number of simultaneously outstanding units; 0 means unbounded.
func NewUnitPool(unitSize int, maxUnits int) *UnitPool {
	if unitSize <= 0 {
		unitSize = DefaultUnitSize
	}
	p := &UnitPool{
		unitSize: unitSize,
		maxUnits: int64(maxUnits),
	}
	p.pool.New = func() interface{} {
		return make([]byte, unitSize)
	}
	return p
}

// UnitSize returns the size of one unit in bytes.
func (p *UnitPool) UnitSize() int {
	return p.unitSize
}

// Outstanding returns the number of units currently held by live items,
// both pooled and pinned.
func (p *UnitPool) Outstanding() int64 {
	return atomic.LoadInt64(&p.outstanding)
}

// Acquire copies data into a fresh unit and returns it with one reference
// held. Fails with ErrResourceExhausted when the pool is at its limit.
func (p *UnitPool) Acquire(data []byte) (*Unit, error) {
	if len(data) > p.unitSize {
		return nil, ErrInvalidArgument
	}
	if !p.reserve() {
		return nil, ErrResourceExhausted
	}
	buf := p.pool.Get().([]byte)
	n := copy(buf, data)
	return &Unit{
		buf:    buf,
		length: n,
		pool:   p,
		refs:   1,
	}, nil
}

// Pin adopts the caller's buffer in place (true zero-copy) and returns a
// unit with one reference held. The caller must not mutate the buffer
// until the item is released.
func (p *UnitPool) Pin(data []byte) (*Unit, error) {
	if len(data) > p.unitSize {
		return nil, ErrInvalidArgument
	}
	if !p.reserve() {
		return nil, ErrResourceExhausted
	}
	return &Unit{
		buf:    data,
		length: len(data),
		pinned: true,
		pool:   p,
		refs:   1,
	}, nil
}

func (p *UnitPool) reserve() bool {
	n := atomic.AddInt64(&p.outstanding, 1)
	if p.maxUnits > 0 && n > p.maxUnits {
		atomic.AddInt64(&p.outstanding, -1)
		return false
	}
	return true
}

// put returns a reclaimed unit's backing memory. Pinned buffers belong to
// the original caller and are not recycled.
func (p *UnitPool) put(u *Unit) {
	if !u.pinned && u.buf != nil {
		p.pool.Put(u.buf[:cap(u.buf)])
	}
	atomic.AddInt64(&p.outstanding, -1)
}
