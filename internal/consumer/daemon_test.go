package consumer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfslab/tfsd/internal/xfer"
)

func pipelineOpener(p *xfer.Pipeline) Opener {
	return func() (Control, error) {
		ch, err := p.OpenChannel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

func fastConfig(mode string) Config {
	return Config{
		Mode:           mode,
		WaitTimeout:    10 * time.Millisecond,
		ErrorThreshold: 3,
		ReopenAttempts: 2,
		Backoff:        5 * time.Millisecond,
	}
}

// End-to-end against a real pipeline: the daemon drains writes through
// the full map/inspect/unmap/release cycle.
func TestDaemonDrainsPipeline(t *testing.T) {
	for _, mode := range []string{ModeMap, ModeRead} {
		t.Run(mode, func(t *testing.T) {
			p := xfer.New(xfer.Config{ZeroCopy: mode == ModeMap}, nil, nil)

			var mu sync.Mutex
			var payloads []string
			inspect := func(info xfer.Info, data []byte) error {
				mu.Lock()
				payloads = append(payloads, string(data))
				mu.Unlock()
				return nil
			}

			d := New(pipelineOpener(p), fastConfig(mode)).WithInspect(inspect)
			go d.Run()
			defer d.Stop()

			for _, s := range []string{"alpha", "beta", "gamma"} {
				_, err := p.Write(0, []byte(s))
				require.NoError(t, err)
			}

			require.Eventually(t, func() bool {
				return d.Processed() == 3
			}, 2*time.Second, 5*time.Millisecond)

			assert.Equal(t, 0, p.Count())
			assert.Equal(t, int64(0), p.Pool().Outstanding())
			mu.Lock()
			assert.Equal(t, []string{"alpha", "beta", "gamma"}, payloads)
			mu.Unlock()
		})
	}
}

// Marker items are released without the inspect hook ever firing.
func TestDaemonReleasesMarkers(t *testing.T) {
	p := xfer.New(xfer.Config{}, nil, nil)

	inspected := false
	d := New(pipelineOpener(p), fastConfig(ModeMap)).
		WithInspect(func(info xfer.Info, data []byte) error {
			inspected = true
			return nil
		})
	go d.Run()
	defer d.Stop()

	_, err := p.Write(99, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Processed() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, p.Count())
	assert.False(t, inspected)
}

// An inspect error is logged, not fatal: the item is still released and
// the loop keeps going.
func TestDaemonSurvivesInspectError(t *testing.T) {
	p := xfer.New(xfer.Config{}, nil, nil)

	d := New(pipelineOpener(p), fastConfig(ModeMap)).
		WithInspect(func(info xfer.Info, data []byte) error {
			return errors.New("payload rejected")
		})
	go d.Run()
	defer d.Stop()

	_, err := p.Write(0, []byte("bad"))
	require.NoError(t, err)
	_, err = p.Write(1, []byte("also bad"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Processed() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Count())
}

// stubControl scripts control-operation failures for the recovery paths.
type stubControl struct {
	mu        sync.Mutex
	countErrs int
	closed    bool
}

func (s *stubControl) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErrs > 0 {
		s.countErrs--
		return 0, errors.New("channel wedged")
	}
	return 0, nil
}

func (s *stubControl) Peek() (xfer.Info, error)          { return xfer.Info{}, xfer.ErrNoData }
func (s *stubControl) Release() error                    { return nil }
func (s *stubControl) Map() (*xfer.View, error)          { return nil, xfer.ErrNoData }
func (s *stubControl) Unmap(*xfer.View) error            { return nil }
func (s *stubControl) ReadAt([]byte, int64) (int, error) { return 0, xfer.ErrNoData }
func (s *stubControl) Wait(time.Duration) bool           { return false }
func (s *stubControl) Healthy() bool                     { return true }

func (s *stubControl) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Consecutive failures past the threshold trip a reopen; the replacement
// channel clears the failure count and the daemon recovers.
func TestDaemonReopensAfterConsecutiveFailures(t *testing.T) {
	bad := &stubControl{countErrs: 100}
	good := &stubControl{}

	var mu sync.Mutex
	opens := 0
	open := func() (Control, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return bad, nil
		}
		return good, nil
	}

	d := New(open, fastConfig(ModeMap))
	go d.Run()
	defer d.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 2
	}, 2*time.Second, 5*time.Millisecond)

	bad.mu.Lock()
	assert.True(t, bad.closed, "wedged channel must be closed before reopen")
	bad.mu.Unlock()

	// The replacement channel serves the idle loop without tripping again.
	require.Eventually(t, func() bool {
		return d.State() == StateWait || d.State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

// When every reopen attempt fails the daemon terminates cleanly.
func TestDaemonTerminatesWhenReopenExhausted(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	open := func() (Control, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return &stubControl{countErrs: 100}, nil
		}
		return nil, errors.New("pipeline gone")
	}

	d := New(open, fastConfig(ModeMap))

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	select {
	case err := <-done:
		assert.NoError(t, err, "reopen exhaustion is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never terminated")
	}

	assert.Equal(t, StateTerminated, d.State())
	mu.Lock()
	assert.Equal(t, 1+d.cfg.ReopenAttempts, opens)
	mu.Unlock()
}

func TestDaemonStop(t *testing.T) {
	p := xfer.New(xfer.Config{}, nil, nil)
	d := New(pipelineOpener(p), fastConfig(ModeMap))

	started := make(chan struct{})
	go func() {
		close(started)
		d.Run()
	}()
	<-started

	require.Eventually(t, func() bool {
		s := d.State()
		return s == StateWait || s == StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	// Stop returned, so the loop has exited and the channel is closed.
	assert.Equal(t, uint64(0), d.Processed())
}

func TestDaemonConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ModeMap, cfg.Mode)
	assert.Equal(t, time.Second, cfg.WaitTimeout)
	assert.Equal(t, 10, cfg.ErrorThreshold)
	assert.Equal(t, 3, cfg.ReopenAttempts)
	assert.Equal(t, time.Second, cfg.Backoff)
	assert.Equal(t, 5*time.Minute, cfg.HealthInterval)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "wait", StateWait.String())
	assert.Equal(t, "map", StateMap.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(99).String())
}
