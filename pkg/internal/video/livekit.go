package video

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	lksdk "github.com/livekit/server-sdk-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// roomConn is the slice of the SDK room the handle actually drives.
type roomConn interface {
	Disconnect()
}

type dialFunc func(serverURL, token string, sink eventSink) (roomConn, error)

type eventSink interface {
	participantJoined(identity string)
	participantLeft(identity string)
	left()
}

// LiveKitBridge mounts calls onto a LiveKit room. The runtime check runs
// lazily on first use and its success is cached for the process lifetime;
// a failed load is reported and re-attempted on the next Join.
type LiveKitBridge struct {
	serverURL string
	dial      dialFunc
	load      func(serverURL string) error

	mu           sync.Mutex
	runtimeReady bool
	current      *liveHandle
}

func NewLiveKitBridge(serverURL string) *LiveKitBridge {
	return &LiveKitBridge{
		serverURL: serverURL,
		dial:      dialLiveKit,
		load:      checkRuntime,
	}
}

func NewLiveKitBridgeFromConfig() *LiveKitBridge {
	return NewLiveKitBridge("wss://" + viper.GetString("calling.endpoint"))
}

func (b *LiveKitBridge) Join(ctx context.Context, room RoomInfo) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		log.Debug().Msg("Video join requested while a conference handle is live, reusing it.")
		return b.current, nil
	}

	server := room.ServerURL
	if server == "" {
		server = b.serverURL
	}

	if !b.runtimeReady {
		if err := b.load(server); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		b.runtimeReady = true
	}

	h := &liveHandle{
		bridge: b,
		events: make(chan Event, 16),
	}
	conn, err := b.dial(server, room.Token, h)
	if err != nil {
		return nil, fmt.Errorf("unable to join conference room: %w", err)
	}
	h.conn = conn
	b.current = h

	h.send(Event{Kind: EventJoined, Participant: room.DisplayName})
	return h, nil
}

func (b *LiveKitBridge) clear(h *liveHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == h {
		b.current = nil
	}
}

type liveHandle struct {
	bridge *LiveKitBridge
	conn   roomConn

	mu      sync.Mutex
	closed  bool
	events  chan Event
	remotes int32
}

func (h *liveHandle) Events() <-chan Event {
	return h.events
}

// Leave detaches the widget and stops the event stream. Idempotent; safe
// to call while SDK callbacks are still in flight.
func (h *liveHandle) Leave() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	h.bridge.clear(h)

	h.mu.Lock()
	close(h.events)
	h.mu.Unlock()
}

// send drops events rather than block the SDK callback goroutine.
func (h *liveHandle) send(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("Conference event queue is full, dropping event.")
	}
}

func (h *liveHandle) participantJoined(identity string) {
	atomic.AddInt32(&h.remotes, 1)
	h.send(Event{Kind: EventParticipantJoined, Participant: identity})
}

func (h *liveHandle) participantLeft(identity string) {
	h.send(Event{Kind: EventParticipantLeft, Participant: identity})
	if atomic.AddInt32(&h.remotes, -1) <= 0 {
		h.send(Event{Kind: EventReadyToClose})
	}
}

func (h *liveHandle) left() {
	h.send(Event{Kind: EventLeft})
}

func checkRuntime(serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("conference host is not configured")
	}
	return nil
}

func dialLiveKit(serverURL, token string, sink eventSink) (roomConn, error) {
	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			sink.participantJoined(p.Identity())
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			sink.participantLeft(p.Identity())
		},
		OnDisconnected: func() {
			sink.left()
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(serverURL, token, cb)
	if err != nil {
		return nil, err
	}
	return room, nil
}
