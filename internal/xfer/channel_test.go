package xfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPeekEmpty(t *testing.T) {
	p := newTestPipeline(t, Config{})
	ch, err := p.OpenChannel()
	require.NoError(t, err)

	_, err = ch.Peek()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestChannelClose(t *testing.T) {
	p := newTestPipeline(t, Config{})
	ch, err := p.OpenChannel()
	require.NoError(t, err)
	assert.True(t, ch.Healthy())
	assert.NotEmpty(t, ch.ID())

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "close is idempotent")
	assert.False(t, ch.Healthy())

	_, err = ch.Count()
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	_, err = ch.Peek()
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, ch.Release(), ErrChannelUnavailable)
	_, err = ch.Map()
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, ch.Unmap(&View{}), ErrChannelUnavailable)
	_, err = ch.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.False(t, ch.Wait(time.Millisecond))
}

// Closing one handle does not disturb the pipeline; a fresh handle works.
func TestChannelReopenAfterClose(t *testing.T) {
	p := newTestPipeline(t, Config{})

	ch1, err := p.OpenChannel()
	require.NoError(t, err)

	_, err = p.Write(0, []byte("survives"))
	require.NoError(t, err)
	require.NoError(t, ch1.Close())

	ch2, err := p.OpenChannel()
	require.NoError(t, err)
	count, err := ch2.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	info, err := ch2.Peek()
	require.NoError(t, err)
	assert.Equal(t, 8, info.Size)
}

func TestChannelUnusableAfterPipelineClose(t *testing.T) {
	p := newTestPipeline(t, Config{})
	ch, err := p.OpenChannel()
	require.NoError(t, err)

	require.NoError(t, p.Close())

	assert.False(t, ch.Healthy())
	_, err = ch.Count()
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestChannelWaitSignaledByWrite(t *testing.T) {
	p := newTestPipeline(t, Config{})
	ch, err := p.OpenChannel()
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		done <- ch.Wait(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = p.Write(0, []byte("wake"))
	require.NoError(t, err)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after write")
	}
}
