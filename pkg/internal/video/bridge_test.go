package video

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	disconnects int
}

func (c *stubConn) Disconnect() {
	c.disconnects++
}

type stubDialer struct {
	dials   int
	err     error
	conn    *stubConn
	sink    eventSink
	lastURL string
}

func (d *stubDialer) dial(serverURL, token string, sink eventSink) (roomConn, error) {
	d.dials++
	d.lastURL = serverURL
	if d.err != nil {
		return nil, d.err
	}
	d.conn = &stubConn{}
	d.sink = sink
	return d.conn, nil
}

func newStubBridge(dialer *stubDialer) *LiveKitBridge {
	b := NewLiveKitBridge("wss://meet.test.local")
	b.dial = dialer.dial
	return b
}

func expectEvent(t *testing.T, h Handle, kind EventKind) Event {
	t.Helper()
	select {
	case ev := <-h.Events():
		assert.Equal(t, kind, ev.Kind)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no %s event arrived", kind)
		return Event{}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	first, err := b.Join(context.Background(), RoomInfo{Token: "tok", DisplayName: "amelia"})
	require.NoError(t, err)
	expectEvent(t, first, EventJoined)

	second, err := b.Join(context.Background(), RoomInfo{Token: "tok", DisplayName: "amelia"})
	require.NoError(t, err)
	assert.Same(t, first, second, "a second join while connected must reuse the live handle")
	assert.Equal(t, 1, dialer.dials)
}

func TestJoinPrefersRoomServerURL(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	_, err := b.Join(context.Background(), RoomInfo{Token: "tok", ServerURL: "wss://other.example.org"})
	require.NoError(t, err)
	assert.Equal(t, "wss://other.example.org", dialer.lastURL)
}

func TestLeaveReleasesAndAllowsRejoin(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	h, err := b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.NoError(t, err)
	conn := dialer.conn

	h.Leave()
	h.Leave()
	assert.Equal(t, 1, conn.disconnects, "leave must disconnect exactly once")

	// the stream is closed for its consumer
	_, open := <-drained(h)
	assert.False(t, open)

	again, err := b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.NoError(t, err)
	assert.NotSame(t, h, again)
	assert.Equal(t, 2, dialer.dials)
}

// drained consumes any buffered events so the closed-channel read is
// deterministic.
func drained(h Handle) <-chan Event {
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				closed := make(chan Event)
				close(closed)
				return closed
			}
		default:
			return h.Events()
		}
	}
}

func TestRuntimeLoadFailureIsRetryable(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	loads := 0
	loadErr := fmt.Errorf("host unreachable")
	b.load = func(serverURL string) error {
		loads++
		return loadErr
	}

	_, err := b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))
	assert.Zero(t, dialer.dials, "no dial may happen without the runtime")

	// the failure is not cached: the next join checks again and succeeds
	loadErr = nil
	h, err := b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 2, loads)

	// success is cached for the process lifetime
	h.Leave()
	_, err = b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestParticipantEventsFlow(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	h, err := b.Join(context.Background(), RoomInfo{Token: "tok", DisplayName: "amelia"})
	require.NoError(t, err)
	expectEvent(t, h, EventJoined)

	dialer.sink.participantJoined("t-1")
	ev := expectEvent(t, h, EventParticipantJoined)
	assert.Equal(t, "t-1", ev.Participant)

	// the last remote leaving also signals the room is done
	dialer.sink.participantLeft("t-1")
	expectEvent(t, h, EventParticipantLeft)
	expectEvent(t, h, EventReadyToClose)

	dialer.sink.left()
	expectEvent(t, h, EventLeft)
}

func TestEventsAfterLeaveAreDropped(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	h, err := b.Join(context.Background(), RoomInfo{Token: "tok"})
	require.NoError(t, err)
	h.Leave()

	// SDK callbacks can still fire after disconnect; they must not panic
	// or resurrect the stream
	dialer.sink.participantJoined("t-1")
	dialer.sink.left()
}

func TestJoinHonorsCancelledContext(t *testing.T) {
	dialer := &stubDialer{}
	b := newStubBridge(dialer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Join(ctx, RoomInfo{Token: "tok"})
	require.Error(t, err)
	assert.Zero(t, dialer.dials)
}

func TestCheckRuntime(t *testing.T) {
	assert.NoError(t, checkRuntime("wss://meet.example.org"))
	assert.Error(t, checkRuntime("wss://"), "a missing host cannot be joined")
}
