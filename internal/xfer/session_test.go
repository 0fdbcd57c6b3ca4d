package xfer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapEmptyQueue(t *testing.T) {
	p := newTestPipeline(t, Config{})

	_, err := p.mapHead()
	assert.ErrorIs(t, err, ErrNoData)

	// The failed attempt must not leave the session held.
	_, err = p.mapHead()
	assert.ErrorIs(t, err, ErrNoData)
}

// Only one mapping session may exist at a time; a second attempt blocks
// until the first is unmapped.
func TestMapSessionExclusive(t *testing.T) {
	p := newTestPipeline(t, Config{})

	_, err := p.Write(0, []byte("first"))
	require.NoError(t, err)
	_, err = p.Write(1, []byte("second"))
	require.NoError(t, err)

	v1, err := p.mapHead()
	require.NoError(t, err)

	acquired := make(chan *View)
	go func() {
		v, err := p.mapHead()
		assert.NoError(t, err)
		acquired <- v
	}()

	select {
	case <-acquired:
		t.Fatal("second session opened while the first was active")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.unmap(v1))

	select {
	case v2 := <-acquired:
		// Still the same head; nothing was released in between.
		assert.Equal(t, []byte("first"), v2.Bytes())
		require.NoError(t, p.unmap(v2))
	case <-time.After(time.Second):
		t.Fatal("second session never opened after unmap")
	}
}

// A mapping setup failure drops the speculative reference and leaves the
// item queued so the consumer can still release it uninspected.
func TestMapSetupFailure(t *testing.T) {
	p := newTestPipeline(t, Config{})
	boom := errors.New("backing store refused")
	p.mapHook = func() error { return boom }

	_, err := p.Write(0, []byte("doomed"))
	require.NoError(t, err)

	_, err = p.mapHead()
	assert.ErrorIs(t, err, ErrFault)

	// Item still queued with only the producer's reference.
	it := p.queue.head()
	require.NotNil(t, it)
	assert.Equal(t, int32(1), it.unit.Refs())

	// The session was not left held; clearing the hook lets mapping work.
	p.mapHook = nil
	v, err := p.mapHead()
	require.NoError(t, err)
	require.NoError(t, p.unmap(v))
	require.NoError(t, p.release())
	assert.Equal(t, int64(0), p.Pool().Outstanding())
}

func TestUnmapWrongView(t *testing.T) {
	p := newTestPipeline(t, Config{})

	_, err := p.Write(0, []byte("real"))
	require.NoError(t, err)

	v, err := p.mapHead()
	require.NoError(t, err)

	assert.ErrorIs(t, p.unmap(nil), ErrInvalidArgument)
	assert.ErrorIs(t, p.unmap(&View{item: v.item}), ErrInvalidArgument)

	require.NoError(t, p.unmap(v))
	assert.ErrorIs(t, p.unmap(v), ErrInvalidArgument)
}

// Releasing a mapped head force-closes the session first so the caller's
// view never outlives the item.
func TestReleaseForcesUnmap(t *testing.T) {
	p := newTestPipeline(t, Config{})

	_, err := p.Write(0, []byte("held"))
	require.NoError(t, err)

	v, err := p.mapHead()
	require.NoError(t, err)

	require.NoError(t, p.release())
	assert.Nil(t, v.Bytes())
	assert.Equal(t, int64(0), p.Pool().Outstanding())

	// Session semaphore was freed by the forced close.
	_, err = p.mapHead()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMapCeilingClamp(t *testing.T) {
	p := newTestPipeline(t, Config{UnitSize: 64, MapCeiling: 16})

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	_, err := p.Write(0, payload)
	require.NoError(t, err)

	v, err := p.mapHead()
	require.NoError(t, err)
	assert.Equal(t, 16, v.Len())
	assert.Equal(t, payload[:16], v.Bytes())
	require.NoError(t, p.unmap(v))
}

func TestViewAliasesProducerMemory(t *testing.T) {
	p := newTestPipeline(t, Config{ZeroCopy: true})

	buf := []byte("mutable")
	_, err := p.Write(0, buf)
	require.NoError(t, err)

	v, err := p.mapHead()
	require.NoError(t, err)

	// Zero-copy: the view sees the producer's memory, not a snapshot.
	buf[0] = 'M'
	assert.Equal(t, []byte("Mutable"), v.Bytes())
	require.NoError(t, p.unmap(v))
}

func TestReadAt(t *testing.T) {
	p := newTestPipeline(t, Config{})

	buf := make([]byte, 16)
	_, err := p.readAt(buf, 0)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = p.Write(0, []byte("hello world"))
	require.NoError(t, err)

	n, err := p.readAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf[:n]))

	n, err = p.readAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf[:n]))

	// Reading at or past the end is empty, not an error.
	n, err = p.readAt(buf, 11)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = p.readAt(buf, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// The copy path holds no lasting reference.
	require.NoError(t, p.release())
	assert.Equal(t, int64(0), p.Pool().Outstanding())
}

func TestReadAtMarker(t *testing.T) {
	p := newTestPipeline(t, Config{})

	_, err := p.Write(7, nil)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := p.readAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
