package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tutorlink/calling/pkg/internal/endpoint"
	"github.com/tutorlink/calling/pkg/internal/metrics"
	"github.com/tutorlink/calling/pkg/internal/models"
	"github.com/tutorlink/calling/pkg/internal/video"
)

const DefaultHeartbeatInterval = 15 * time.Second

// SessionAPI is the backend contract the controller consumes. The session
// endpoint client implements it; tests substitute a scripted fake.
type SessionAPI interface {
	GetActive(ctx context.Context) (*models.ActiveCall, error)
	Start(ctx context.Context, teacherID string) (*models.CallSession, error)
	Heartbeat(ctx context.Context) (*models.HeartbeatResult, error)
	End(ctx context.Context) (*models.CallEndResult, error)
}

// Snapshot is the controller state the presentation layer renders from.
type Snapshot struct {
	State            models.SessionState
	Call             *models.CallSession
	ElapsedSeconds   int
	Subscription     *models.SubscriptionBalance
	Terminating      bool
	VideoUnavailable bool
	LastError        string
	EndReason        string
}

type Options struct {
	API       SessionAPI
	Bridge    video.Bridge
	Notifier  Notifier
	Clock     clock.Clock
	Heartbeat time.Duration
	Account   models.Account
	TeacherID string
	OnChange  func(Snapshot)
}

// Controller owns the call session state machine. Remote state and the
// conference widget are reconciled here and nowhere else: every termination
// trigger funnels through terminate, every timer is scoped to one call
// generation, and nothing mutates state after Unmount.
type Controller struct {
	api       SessionAPI
	bridge    video.Bridge
	notify    Notifier
	clk       clock.Clock
	interval  time.Duration
	account   models.Account
	teacherID string
	onChange  func(Snapshot)

	mu         sync.Mutex
	lifetime   context.Context
	cancel     context.CancelFunc
	state      models.SessionState
	call       *models.CallSession
	videoInfo  *models.VideoRoomInfo
	elapsed    int
	sub        *models.SubscriptionBalance
	lastErr    string
	endReason  string
	gen        uint64
	callCtx    context.Context
	callCancel context.CancelFunc
	handle     video.Handle
	handleUp   bool
	gaugeUp    bool

	terminating bool
	videoFailed bool
}

func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier()
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = DefaultHeartbeatInterval
		if secs := viper.GetInt("calling.heartbeat_interval"); secs > 0 {
			opts.Heartbeat = time.Duration(secs) * time.Second
		}
	}
	return &Controller{
		api:       opts.API,
		bridge:    opts.Bridge,
		notify:    opts.Notifier,
		clk:       opts.Clock,
		interval:  opts.Heartbeat,
		account:   opts.Account,
		teacherID: opts.TeacherID,
		onChange:  opts.OnChange,
		state:     models.StateLoading,
	}
}

// Mount reconciles against remote truth before any call-control decision:
// an active session found on the backend is resumed straight into the
// active state, never through connecting.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.lifetime != nil {
		c.mu.Unlock()
		log.Error().Msg("Controller mounted twice, this is a bug.")
		return
	}
	c.lifetime, c.cancel = context.WithCancel(ctx)
	c.state = models.StateLoading
	lifetime := c.lifetime
	c.mu.Unlock()
	c.emit()

	active, err := c.api.GetActive(lifetime)

	c.mu.Lock()
	if lifetime.Err() != nil {
		c.mu.Unlock()
		return
	}
	if err != nil || active == nil || !active.HasActiveCall || active.Call == nil {
		if err != nil {
			log.Warn().Err(err).Msg("An error occurred when checking for an active call.")
		}
		c.state = models.StateIdle
		c.mu.Unlock()
		c.emit()
		return
	}
	c.enterActiveLocked(active.Call, active.Video)
	c.mu.Unlock()
	c.emit()
}

// Unmount tears the controller down. In-flight requests may complete but
// their results are discarded; timers scheduled before this point can no
// longer mutate state.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.lifetime == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.gen++
	if c.callCancel != nil {
		c.callCancel()
		c.callCancel = nil
	}
	c.callCtx = nil
	handle := c.handle
	c.handle = nil
	c.handleUp = false
	if c.gaugeUp {
		c.gaugeUp = false
		metrics.ActiveSessions.Dec()
	}
	c.mu.Unlock()

	if handle != nil {
		handle.Leave()
	}
}

// StartCall issues the user's start intent. Valid from idle only, and only
// for roles allowed to initiate.
func (c *Controller) StartCall() error {
	c.mu.Lock()
	if c.lifetime == nil || c.lifetime.Err() != nil {
		c.mu.Unlock()
		return fmt.Errorf("controller is not mounted")
	}
	if !c.account.CanInitiateCall() {
		c.mu.Unlock()
		return fmt.Errorf("tutors receive calls, they cannot place them")
	}
	if c.state != models.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("cannot start a call from the %s state", c.state)
	}
	if c.teacherID == "" {
		c.lastErr = "No teacher selected"
		c.mu.Unlock()
		c.emit()
		return fmt.Errorf("no teacher selected")
	}
	c.state = models.StateConnecting
	c.lastErr = ""
	lifetime := c.lifetime
	c.mu.Unlock()
	c.emit()

	call, err := c.api.Start(lifetime, c.teacherID)

	c.mu.Lock()
	if lifetime.Err() != nil {
		c.mu.Unlock()
		return lifetime.Err()
	}
	if c.state != models.StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.state = models.StateIdle
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.notify.Error(err.Error())
		c.emit()
		return err
	}
	call.ElapsedSeconds = 0
	c.sub = nil
	c.enterActiveLocked(call, nil)
	c.mu.Unlock()
	c.notify.Success("Call connected!")
	c.emit()
	return nil
}

// EndCall issues the user's end intent. Trigger one of four; the guard in
// terminate makes concurrent triggers collapse into a single teardown.
func (c *Controller) EndCall() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.terminate(gen, "user", "You ended the call.", true)
}

// RetryVideo re-attempts the conference join after a load/join failure.
// The call itself stayed active; only the video surface was missing.
func (c *Controller) RetryVideo() {
	c.mu.Lock()
	if c.state != models.StateActive || c.terminating || c.handleUp || c.callCtx == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.callCtx
	gen := c.gen
	c.handleUp = true
	c.mu.Unlock()
	go c.joinVideo(ctx, gen)
}

func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:            c.state,
		Call:             c.call,
		ElapsedSeconds:   c.elapsed,
		Terminating:      c.terminating,
		VideoUnavailable: c.videoFailed,
		LastError:        c.lastErr,
		EndReason:        c.endReason,
	}
	if c.sub != nil {
		balance := *c.sub
		snap.Subscription = &balance
	}
	return snap
}

// enterActiveLocked begins a new call generation: caches the session,
// resets the termination guard, and starts the conference join plus both
// timers scoped to this generation.
func (c *Controller) enterActiveLocked(call *models.CallSession, info *models.VideoRoomInfo) {
	c.call = call
	c.videoInfo = info
	c.elapsed = call.ElapsedSeconds
	c.state = models.StateActive
	c.terminating = false
	c.videoFailed = false
	c.endReason = ""
	c.lastErr = ""
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(c.lifetime)
	c.callCtx = ctx
	c.callCancel = cancel
	c.handleUp = true
	if !c.gaugeUp {
		c.gaugeUp = true
		metrics.ActiveSessions.Inc()
	}

	go c.joinVideo(ctx, gen)
	go c.runDurationTicker(ctx, gen)
	go c.runHeartbeat(ctx, gen)
}

// aliveLocked gates every asynchronous continuation: the call generation
// must still be current, its context uncancelled, and the state active.
func (c *Controller) aliveLocked(ctx context.Context, gen uint64) bool {
	return c.gen == gen && ctx.Err() == nil && c.state == models.StateActive
}

func (c *Controller) joinVideo(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if !c.aliveLocked(ctx, gen) {
		c.handleUp = false
		c.mu.Unlock()
		return
	}
	room := video.RoomInfo{
		Token:       c.call.RoomToken,
		DisplayName: c.account.Name,
	}
	if c.videoInfo != nil {
		if c.videoInfo.UserName != "" {
			room.DisplayName = c.videoInfo.UserName
		}
		if c.videoInfo.Domain != "" {
			room.ServerURL = "wss://" + c.videoInfo.Domain
		}
	}
	c.mu.Unlock()

	handle, err := c.bridge.Join(ctx, room)

	c.mu.Lock()
	if !c.aliveLocked(ctx, gen) {
		c.handleUp = false
		c.mu.Unlock()
		if err == nil && handle != nil {
			handle.Leave()
		}
		return
	}
	if err != nil {
		c.videoFailed = true
		c.handleUp = false
		c.mu.Unlock()
		metrics.VideoJoinFailures.Inc()
		log.Warn().Err(err).Msg("An error occurred when joining the conference room.")
		c.notify.Error("Video is unavailable right now. The call is still running; retry to rejoin.")
		c.emit()
		return
	}
	c.handle = handle
	c.videoFailed = false
	c.mu.Unlock()
	c.emit()

	go c.pumpVideoEvents(ctx, gen, handle)
}

func (c *Controller) pumpVideoEvents(ctx context.Context, gen uint64, handle video.Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-handle.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case video.EventParticipantJoined:
				log.Debug().Str("participant", ev.Participant).Msg("Participant joined the conference.")
			case video.EventParticipantLeft:
				log.Debug().Str("participant", ev.Participant).Msg("Participant left the conference.")
			case video.EventLeft, video.EventReadyToClose:
				c.terminate(gen, "conference", "The call has ended.", true)
			}
		}
	}
}

func (c *Controller) runDurationTicker(ctx context.Context, gen uint64) {
	ticker := c.clk.Ticker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.aliveLocked(ctx, gen) {
				c.mu.Unlock()
				return
			}
			c.elapsed++
			c.mu.Unlock()
			c.emit()
		}
	}
}

// runHeartbeat sends the liveness beat immediately on entering the active
// state, then at the configured interval. Beats are strictly serialized:
// the next one is not scheduled until the previous response is processed.
func (c *Controller) runHeartbeat(ctx context.Context, gen uint64) {
	for {
		if !c.beat(ctx, gen) {
			return
		}
		timer := c.clk.Timer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) beat(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if !c.aliveLocked(ctx, gen) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	metrics.HeartbeatsTotal.Inc()
	res, err := c.api.Heartbeat(ctx)

	c.mu.Lock()
	if !c.aliveLocked(ctx, gen) {
		c.mu.Unlock()
		return false
	}
	if err != nil {
		c.mu.Unlock()
		if endpoint.IsExpiry(err) {
			c.notify.Error(err.Error())
			c.terminate(gen, "expiry", err.Error(), false)
			return false
		}
		metrics.HeartbeatFailures.Inc()
		log.Warn().Err(err).Msg("An error occurred when sending the call heartbeat.")
		return true
	}
	if res != nil && res.SubscriptionSecondsRemaining != nil {
		c.sub = &models.SubscriptionBalance{SecondsRemaining: *res.SubscriptionSecondsRemaining}
	}
	c.mu.Unlock()
	c.emit()
	return true
}

// terminate is the single funnel for all four termination triggers. The
// guard lives here, not at the call sites: it is checked and set under the
// lock before any asynchronous work, so simultaneous triggers produce at
// most one remote end and one widget teardown per call session.
//
// When callRemote is false the backend already reported the session gone
// (expiry), so no end request is issued. When the end request itself fails
// the call still ends locally; the user is never left stuck in a dead call.
func (c *Controller) terminate(gen uint64, trigger, reason string, callRemote bool) {
	c.mu.Lock()
	if c.gen != gen || c.state != models.StateActive || c.terminating {
		c.mu.Unlock()
		return
	}
	if c.call == nil {
		c.mu.Unlock()
		log.Error().Msg("Terminate invoked with no call session present, this is a bug.")
		return
	}
	c.terminating = true
	if c.callCancel != nil {
		c.callCancel()
		c.callCancel = nil
	}
	c.callCtx = nil
	handle := c.handle
	c.handle = nil
	c.handleUp = false
	if c.gaugeUp {
		c.gaugeUp = false
		metrics.ActiveSessions.Dec()
	}
	lifetime := c.lifetime
	c.mu.Unlock()
	c.emit()

	metrics.TerminationsTotal.WithLabelValues(trigger).Inc()

	if handle != nil {
		handle.Leave()
	}

	endFailed := false
	if callRemote {
		res, err := c.api.End(lifetime)
		if err != nil {
			endFailed = true
			log.Warn().Err(err).Msg("An error occurred when ending the call remotely, ending it locally anyway.")
			if msg, ok := endpoint.AsRemote(err); ok {
				c.notify.Error(msg.Message)
			} else {
				c.notify.Error("Error ending call")
			}
		} else if res != nil {
			c.mu.Lock()
			if c.gen == gen {
				if res.Call != nil {
					c.call = res.Call
				}
				c.elapsed = res.DurationSeconds
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = models.StateEnded
	c.endReason = reason
	c.mu.Unlock()
	c.emit()

	if callRemote && !endFailed {
		c.notify.Success("Call ended")
	}
}

func (c *Controller) emit() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Snapshot())
}
