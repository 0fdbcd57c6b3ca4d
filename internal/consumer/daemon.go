package consumer

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tfslab/tfsd/internal/infrastructure/monitoring"
	"github.com/tfslab/tfsd/internal/infrastructure/resilience"
	"github.com/tfslab/tfsd/internal/xfer"
)

// State is the consumer daemon's current position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateWait
	StateFetch
	StatePeek
	StateMap
	StateInspect
	StateUnmap
	StateRelease
	StateEmptyRelease
	StateError
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWait:
		return "wait"
	case StateFetch:
		return "fetch"
	case StatePeek:
		return "peek"
	case StateMap:
		return "map"
	case StateInspect:
		return "inspect"
	case StateUnmap:
		return "unmap"
	case StateRelease:
		return "release"
	case StateEmptyRelease:
		return "empty-release"
	case StateError:
		return "error"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Control is the channel surface the daemon drives. *xfer.Channel
// satisfies it; tests substitute stubs to exercise the recovery paths.
type Control interface {
	Count() (int, error)
	Peek() (xfer.Info, error)
	Release() error
	Map() (*xfer.View, error)
	Unmap(*xfer.View) error
	ReadAt(buf []byte, pos int64) (int, error)
	Wait(timeout time.Duration) bool
	Healthy() bool
	Close() error
}

// Opener opens a fresh control channel. Called at startup and on every
// reopen attempt.
type Opener func() (Control, error)

// InspectFunc receives each payload during the inspect step. For the
// zero-copy path data aliases the mapped unit and must not be retained.
type InspectFunc func(info xfer.Info, data []byte) error

// Mode selects the consumption path.
const (
	ModeMap  = "map"
	ModeRead = "read"
)

// Config controls the daemon's timing and recovery behavior.
type Config struct {
	// Mode is ModeMap (zero-copy) or ModeRead (copying).
	Mode string
	// WaitTimeout bounds one readiness wait.
	WaitTimeout time.Duration
	// ErrorThreshold is the consecutive-failure count that triggers a
	// channel reopen.
	ErrorThreshold int
	// ReopenAttempts bounds reopen retries before terminating.
	ReopenAttempts int
	// Backoff is the pause after a failed operation or reopen.
	Backoff time.Duration
	// HealthInterval is the period of the self-check timer.
	HealthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeMap
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 10
	}
	if c.ReopenAttempts <= 0 {
		c.ReopenAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Minute
	}
	return c
}

// Daemon is the single consumer loop draining the pipeline.
type Daemon struct {
	cfg     Config
	open    Opener
	inspect InspectFunc
	logger  *zap.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	ch         Control
	state      int32
	processed  uint64
	startTime  time.Time
	lastHealth time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a daemon that opens its channel through open.
func New(open Opener, cfg Config) *Daemon {
	cfg = cfg.withDefaults()
	d := &Daemon{
		cfg:    cfg,
		open:   open,
		logger: zap.NewNop(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.breaker = resilience.New("control-channel", resilience.Settings{
		Threshold: uint32(cfg.ErrorThreshold),
		Timeout:   cfg.Backoff,
		OnStateChange: func(name string, from, to resilience.State) {
			d.logger.Warn("control channel breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return d
}

// WithLogger sets the daemon logger.
func (d *Daemon) WithLogger(logger *zap.Logger) *Daemon {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithMetrics sets the metrics collector.
func (d *Daemon) WithMetrics(m *monitoring.Metrics) *Daemon {
	d.metrics = m
	return d
}

// WithInspect sets the payload inspection hook.
func (d *Daemon) WithInspect(fn InspectFunc) *Daemon {
	d.inspect = fn
	return d
}

// State returns the daemon's current state.
func (d *Daemon) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// Processed returns the number of transfers fully processed.
func (d *Daemon) Processed() uint64 {
	return atomic.LoadUint64(&d.processed)
}

// Stop requests shutdown and blocks until the loop exits. Shutdown is
// honored between state-machine steps, never while a mapping session is
// open.
func (d *Daemon) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}

// Run executes the consumer loop until Stop is called or the channel
// cannot be reopened. Exhausting reopen attempts is a clean shutdown,
// not an error.
func (d *Daemon) Run() error {
	defer close(d.done)

	ch, err := d.open()
	if err != nil {
		d.logger.Error("failed to open control channel", zap.Error(err))
		if !d.reopen() {
			return nil
		}
	} else {
		d.ch = ch
	}

	d.startTime = time.Now()
	d.lastHealth = d.startTime
	d.logger.Info("consumer daemon started",
		zap.String("mode", d.cfg.Mode),
		zap.Duration("health_interval", d.cfg.HealthInterval),
	)

	for {
		select {
		case <-d.stop:
			d.shutdown()
			return nil
		default:
		}

		if !d.step() {
			d.shutdown()
			d.logger.Info("consumer daemon terminated",
				zap.Uint64("transfers_processed", d.Processed()),
			)
			return nil
		}
	}
}

// step runs one state-machine iteration. Returns false when the daemon
// has transitioned to Terminated.
func (d *Daemon) step() bool {
	var count int
	err := d.call(func() error {
		var e error
		count, e = d.ch.Count()
		return e
	})
	if err != nil {
		return d.fail("count", err)
	}

	if count == 0 {
		d.setState(StateWait)
		d.ch.Wait(d.cfg.WaitTimeout)
		d.setState(StateIdle)
		return d.maybeHealthCheck()
	}

	d.setState(StateFetch)
	d.setState(StatePeek)
	var info xfer.Info
	err = d.call(func() error {
		var e error
		info, e = d.ch.Peek()
		return e
	})
	if errors.Is(err, xfer.ErrNoData) {
		// Raced with a drain; nothing to do.
		d.setState(StateIdle)
		return true
	}
	if err != nil {
		return d.fail("peek", err)
	}

	if info.Size == 0 {
		return d.releaseMarker(info)
	}

	if d.cfg.Mode == ModeRead {
		return d.consumeByCopy(info)
	}
	return d.consumeByMapping(info)
}

// releaseMarker handles a zero-length payload event: no memory to
// inspect, but the release must still happen.
func (d *Daemon) releaseMarker(info xfer.Info) bool {
	d.setState(StateEmptyRelease)
	d.logger.Debug("marker item, releasing without mapping",
		zap.String("debug_id", info.DebugID.String()),
		zap.Int64("offset", info.Offset),
	)
	if err := d.call(d.ch.Release); err != nil {
		return d.fail("release", err)
	}
	d.finish()
	return true
}

// consumeByMapping runs the zero-copy path:
// Map -> Inspect -> Unmap -> Release.
func (d *Daemon) consumeByMapping(info xfer.Info) bool {
	d.setState(StateMap)
	var view *xfer.View
	err := d.call(func() error {
		var e error
		view, e = d.ch.Map()
		return e
	})
	if err != nil {
		// The item is still queued. Give up on inspection and release
		// it so the queue keeps moving.
		d.logger.Error("mapping failed, releasing uninspected",
			zap.String("debug_id", info.DebugID.String()),
			zap.Error(err),
		)
		if rerr := d.call(d.ch.Release); rerr != nil {
			return d.fail("release", rerr)
		}
		d.finish()
		return true
	}
	if view == nil {
		// Head became a marker between peek and map.
		return d.releaseMarker(info)
	}

	d.setState(StateInspect)
	d.runInspect(info, view.Bytes())

	d.setState(StateUnmap)
	if err := d.call(func() error { return d.ch.Unmap(view) }); err != nil {
		return d.fail("unmap", err)
	}

	d.setState(StateRelease)
	if err := d.call(d.ch.Release); err != nil {
		return d.fail("release", err)
	}
	d.finish()
	return true
}

// consumeByCopy runs the duplicating path behind the same contract.
func (d *Daemon) consumeByCopy(info xfer.Info) bool {
	d.setState(StateFetch)
	buf := make([]byte, info.Size)
	var n int
	err := d.call(func() error {
		var e error
		n, e = d.ch.ReadAt(buf, 0)
		return e
	})
	if err != nil {
		return d.fail("read", err)
	}

	d.setState(StateInspect)
	d.runInspect(info, buf[:n])

	d.setState(StateRelease)
	if err := d.call(d.ch.Release); err != nil {
		return d.fail("release", err)
	}
	d.finish()
	return true
}

func (d *Daemon) runInspect(info xfer.Info, data []byte) {
	if d.inspect == nil {
		return
	}
	if err := d.inspect(info, data); err != nil {
		d.logger.Warn("payload inspection failed",
			zap.String("debug_id", info.DebugID.String()),
			zap.Error(err),
		)
	}
}

func (d *Daemon) finish() {
	atomic.AddUint64(&d.processed, 1)
	d.setState(StateIdle)
}

// call routes a control operation through the breaker so consecutive
// failures are counted in one place.
func (d *Daemon) call(op func() error) error {
	return d.breaker.Execute(op)
}

// fail handles a failed control operation: log, back off, and reopen the
// channel once the breaker trips. Returns false only when reopening is
// exhausted and the daemon terminates.
func (d *Daemon) fail(op string, err error) bool {
	d.setState(StateError)
	d.metrics.RecordConsumerFailure()
	counts := d.breaker.Counts()
	d.logger.Error("control operation failed",
		zap.String("op", op),
		zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
		zap.Error(err),
	)

	if d.breaker.State() == resilience.StateOpen {
		if !d.reopen() {
			return false
		}
		d.setState(StateIdle)
		return true
	}

	d.sleep(d.cfg.Backoff)
	d.setState(StateIdle)
	return true
}

// reopen replaces the channel handle, up to the configured attempt
// bound. Returns false when the daemon must terminate.
func (d *Daemon) reopen() bool {
	for attempt := 1; attempt <= d.cfg.ReopenAttempts; attempt++ {
		d.metrics.RecordConsumerReopen()
		if d.ch != nil {
			d.ch.Close()
		}
		d.sleep(d.cfg.Backoff)

		ch, err := d.open()
		if err == nil {
			d.ch = ch
			d.breaker.Reset()
			d.logger.Info("control channel reopened",
				zap.Int("attempt", attempt),
			)
			return true
		}
		d.logger.Error("control channel reopen failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	d.setState(StateTerminated)
	return false
}

// maybeHealthCheck runs the periodic self-check from the wait path.
// A failed check follows the same reopen path as an operation failure.
func (d *Daemon) maybeHealthCheck() bool {
	if time.Since(d.lastHealth) < d.cfg.HealthInterval {
		return true
	}
	d.lastHealth = time.Now()

	uptime := time.Since(d.startTime)
	processed := d.Processed()
	perMinute := float64(0)
	if uptime > 0 {
		perMinute = float64(processed) / uptime.Minutes()
	}
	d.logger.Info("health check",
		zap.Duration("uptime", uptime),
		zap.Uint64("transfers_processed", processed),
		zap.Float64("transfers_per_minute", perMinute),
	)

	if d.ch.Healthy() {
		return true
	}
	d.logger.Error("health check failed: channel handle invalid")
	if !d.reopen() {
		return false
	}
	return true
}

// sleep pauses without ignoring a shutdown request.
func (d *Daemon) sleep(dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.stop:
	}
}

func (d *Daemon) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

func (d *Daemon) shutdown() {
	if d.ch != nil {
		d.ch.Close()
	}
}
