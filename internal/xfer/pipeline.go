package xfer

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tfslab/tfsd/internal/infrastructure/monitoring"
	"github.com/tfslab/tfsd/internal/shared/id"
)

// DefaultMapCeiling caps how many bytes a single mapping session exposes.
// Oversized requests are clamped to this ceiling rather than rejected.
const DefaultMapCeiling = 100 << 20

// Config controls a pipeline instance.
type Config struct {
	// UnitSize is the size of one memory unit in bytes.
	UnitSize int
	// MaxDepth bounds the queue; 0 disables backpressure.
	MaxDepth int
	// MaxUnits bounds outstanding memory units; 0 means unbounded.
	MaxUnits int
	// ZeroCopy selects pin mode for Write; false falls back to copying
	// into pooled units.
	ZeroCopy bool
	// MapCeiling clamps the length of a zero-copy view.
	MapCeiling int
}

func (c Config) withDefaults() Config {
	if c.UnitSize <= 0 {
		c.UnitSize = DefaultUnitSize
	}
	if c.MapCeiling <= 0 {
		c.MapCeiling = DefaultMapCeiling
	}
	return c
}

// Pipeline is the single process-wide transfer pipeline: producers write
// into it, one consumer drains it through a Channel. Create with New at
// startup and tear down with Close, which drains every outstanding item
// so no pinned memory leaks.
type Pipeline struct {
	id      string
	cfg     Config
	queue   *Queue
	pool    *UnitPool
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// sessionSem serializes mapping sessions; it is held for the whole
	// session, coarser than the queue's critical section.
	sessionSem chan struct{}

	// stateMu guards the currently mapped item and its view.
	stateMu sync.Mutex
	mapped  *Item
	view    *View

	closeMu sync.Mutex
	closed  bool

	// mapHook injects setup failures in tests.
	mapHook func() error
}

// New creates a pipeline. logger and metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		id:         uuid.NewString(),
		cfg:        cfg,
		queue:      NewQueue(cfg.MaxDepth),
		pool:       NewUnitPool(cfg.UnitSize, cfg.MaxUnits),
		logger:     logger,
		metrics:    metrics,
		sessionSem: make(chan struct{}, 1),
	}
	p.logger.Info("transfer pipeline initialized",
		zap.String("pipeline_id", p.id),
		zap.Int("unit_size", cfg.UnitSize),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Bool("zero_copy", cfg.ZeroCopy),
	)
	return p
}

// ID returns the pipeline instance identity.
func (p *Pipeline) ID() string {
	return p.id
}

// Pool exposes the unit pool for resource snapshots.
func (p *Pipeline) Pool() *UnitPool {
	return p.pool
}

// Write is the producer entry point: it turns a caller-supplied byte
// range at a logical offset into a transfer item and enqueues it.
//
// A zero-length buf enqueues a marker item and returns 0: the consumer is
// notified of the event and must still perform a matching Release. Longer
// payloads are clamped to one unit; the truncated length is reported
// back, which is a structural limit of the protocol, not an error. No
// item is ever partially enqueued.
//
// Write is safe for concurrent callers. Enqueue order is the order in
// which callers commit the queue's critical section.
func (p *Pipeline) Write(offset int64, buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrChannelUnavailable
	}

	if len(buf) == 0 {
		it := &Item{
			Offset:  offset,
			DebugID: id.NewXferID(),
		}
		if err := p.queue.push(it); err != nil {
			p.countError("write")
			return 0, err
		}
		p.metrics.RecordEnqueue(0, true)
		p.metrics.SetQueueDepth(p.queue.Len())
		p.logger.Debug("marker item enqueued",
			zap.Int64("offset", offset),
			zap.String("debug_id", it.DebugID.String()),
		)
		return 0, nil
	}

	count := len(buf)
	if count > p.cfg.UnitSize {
		count = p.cfg.UnitSize
		p.metrics.RecordTruncated()
	}

	// Pin or copy happens outside any lock; only the push below enters
	// the queue's critical section.
	var (
		u   *Unit
		err error
	)
	if p.cfg.ZeroCopy {
		u, err = p.pool.Pin(buf[:count])
	} else {
		u, err = p.pool.Acquire(buf[:count])
	}
	if err != nil {
		p.countError("write")
		return 0, err
	}

	it := &Item{
		Offset:  offset,
		Size:    count,
		DebugID: id.NewXferID(),
		unit:    u,
	}
	if err := p.queue.push(it); err != nil {
		u.Release()
		p.countError("write")
		return 0, err
	}

	p.metrics.RecordEnqueue(count, false)
	p.metrics.SetQueueDepth(p.queue.Len())
	p.logger.Debug("transfer item enqueued",
		zap.Int64("offset", offset),
		zap.Int("size", count),
		zap.String("debug_id", it.DebugID.String()),
	)
	return count, nil
}

// Count returns the number of pending transfer items.
func (p *Pipeline) Count() int {
	return p.queue.Len()
}

// release removes exactly the head item, forcing an active mapping
// session on it closed first, and drops the queue's reference on the
// backing memory. The unit reaches zero references here unless the
// producer side still pins it elsewhere.
func (p *Pipeline) release() error {
	p.forceUnmap(p.queue.head())

	it := p.queue.popHead()
	if it == nil {
		return ErrNoData
	}
	if it.unit != nil {
		it.unit.Release()
	}
	p.metrics.RecordRelease()
	p.metrics.SetQueueDepth(p.queue.Len())
	p.logger.Debug("transfer item released",
		zap.String("debug_id", it.DebugID.String()),
		zap.Int("size", it.Size),
	)
	return nil
}

// Drain pops and releases every remaining item, closing any active
// mapping session. Called from the shutdown sequence before the control
// channel is destroyed.
func (p *Pipeline) Drain() int {
	n := 0
	for {
		p.forceUnmap(p.queue.head())
		it := p.queue.popHead()
		if it == nil {
			break
		}
		if it.unit != nil {
			it.unit.Release()
		}
		n++
	}
	if n > 0 {
		p.metrics.SetQueueDepth(0)
		p.logger.Info("drained pending transfers", zap.Int("count", n))
	}
	return n
}

// Close drains the queue and marks the pipeline unusable. Subsequent
// writes and channel opens fail with ErrChannelUnavailable.
func (p *Pipeline) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	p.Drain()
	p.logger.Info("transfer pipeline closed", zap.String("pipeline_id", p.id))
	return nil
}

func (p *Pipeline) isClosed() bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closed
}

func (p *Pipeline) countError(stage string) {
	p.metrics.RecordPipelineError(stage)
}
