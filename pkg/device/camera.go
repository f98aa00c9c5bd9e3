package device

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/watchroom/watchroom/pkg/capture"
	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
	"github.com/watchroom/watchroom/pkg/signaling"
	"github.com/watchroom/watchroom/pkg/trace"
)

// CameraOptions configures a camera controller.
type CameraOptions struct {
	DeviceID string
	RoomID   string
	// Transports builds a fresh signaling channel for every join.
	Transports TransportFactory
	// Sessions builds the negotiation unit toward the monitor.
	Sessions rtc.Factory
	RTC      rtc.Config
	// Capture supplies the local media once a monitor is present.
	Capture capture.Source
	Trace   trace.Recorder
	Log     *logger.Logger
}

// Camera is the source-side controller. It joins a room, waits for a
// monitor, acquires media, announces readiness and then drives a single
// outbound negotiation session toward that monitor.
//
// All event handling is serialized under one mutex; asynchronous session
// completions carry the join generation and are dropped when stale.
type Camera struct {
	id      string
	roomID  string
	rtcCfg  rtc.Config
	newTr   TransportFactory
	newSess rtc.Factory
	capture capture.Source
	trace   trace.Recorder
	log     *logger.Logger

	mu        sync.Mutex
	status    model.DeviceStatus
	gen       int
	ctx       context.Context
	transport signaling.Transport
	tracks    []webrtc.TrackLocal
	sess      rtc.Session
	monitorID string

	statusCh chan StatusChange
}

var _ Controller = (*Camera)(nil)

// NewCamera builds a camera controller in the init status.
func NewCamera(opts CameraOptions) *Camera {
	if opts.Sessions == nil {
		opts.Sessions = rtc.NewPeer
	}
	if opts.Trace == nil {
		opts.Trace = trace.Nop{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefault("watchroom")
	}
	return &Camera{
		id:       opts.DeviceID,
		roomID:   opts.RoomID,
		rtcCfg:   opts.RTC,
		newTr:    opts.Transports,
		newSess:  opts.Sessions,
		capture:  opts.Capture,
		trace:    opts.Trace,
		log:      opts.Log.Child("camera"),
		status:   model.DeviceStatusInit,
		statusCh: make(chan StatusChange, notifyBuffer),
	}
}

func (c *Camera) ID() string             { return c.id }
func (c *Camera) RoomID() string         { return c.roomID }
func (c *Camera) Role() model.DeviceType { return model.DeviceTypeCamera }

// StatusChanges delivers device-level transitions. The channel is buffered;
// a slow consumer loses notifications, never blocks the state machine.
func (c *Camera) StatusChanges() <-chan StatusChange { return c.statusCh }

func (c *Camera) Status() model.DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// MonitorID returns the counterpart currently tracked, or empty.
func (c *Camera) MonitorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorID
}

func (c *Camera) Peers() map[string]model.DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]model.DeviceStatus{}
	if c.sess != nil && c.monitorID != "" {
		out[c.monitorID] = sessionStatus(c.sess.State())
	}
	return out
}

// JoinRoom opens a fresh signaling channel and enters the wait status. It
// is legal only from init; any other status warns and does nothing.
func (c *Camera) JoinRoom(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.DeviceStatusInit {
		c.log.Warn("join ignored in status %s", c.status)
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(model.DeviceStatusWait)
	c.ctx = ctx
	gen := c.gen

	tr := c.newTr(signaling.Params{
		DeviceID:   c.id,
		DeviceType: model.DeviceTypeCamera,
		RoomID:     c.roomID,
	})
	c.transport = tr
	tr.On(model.EventTypeConnect, func(ev *model.Event) { c.onConnect(gen, ev) })
	tr.On(model.EventTypeJoinRoom, func(ev *model.Event) { c.onJoinRoom(gen, ev) })
	tr.On(model.EventTypeLeaveRoom, func(ev *model.Event) { c.onLeaveRoom(gen, ev) })
	tr.On(model.EventTypeMonitorReady, func(ev *model.Event) { c.onMonitorReady(gen, ev) })
	tr.On(model.EventTypeAnswer, func(ev *model.Event) { c.onAnswer(gen, ev) })
	tr.On(model.EventTypeIceCandidate, func(ev *model.Event) { c.onCandidate(gen, ev) })
	tr.On(model.EventTypeError, func(ev *model.Event) { c.onServerError(gen, ev) })
	c.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.setStatusLocked(model.DeviceStatusError)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom tears down the session, releases media and closes signaling.
// Completions from the abandoned generation are dropped afterwards. Safe
// to call repeatedly.
func (c *Camera) LeaveRoom() {
	c.mu.Lock()
	c.gen++
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
	c.releaseCaptureLocked()
	c.monitorID = ""
	tr := c.transport
	c.transport = nil
	c.setStatusLocked(model.DeviceStatusInit)
	c.mu.Unlock()

	if tr != nil {
		tr.Disconnect()
	}
}

// Reconnect leaves and rejoins the room on a fresh signaling channel.
func (c *Camera) Reconnect(ctx context.Context) error {
	c.LeaveRoom()
	return c.JoinRoom(ctx)
}

func (c *Camera) onConnect(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != model.DeviceStatusWait {
		return
	}
	c.setStatusLocked(model.DeviceStatusConnected)

	p, err := ev.DecodeConnect()
	if err != nil {
		c.log.Warn("bad connect payload: %v", err)
		return
	}
	for _, d := range p.Devices {
		if d.Type == model.DeviceTypeMonitor && d.ID != c.id {
			c.adoptMonitorLocked(d.ID)
			break
		}
	}
}

func (c *Camera) onJoinRoom(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != model.DeviceStatusConnected {
		return
	}
	p, err := ev.DecodeJoinRoom()
	if err != nil || p.Device == nil {
		c.log.Warn("bad join_room payload: %v", err)
		return
	}
	if p.Device.Type != model.DeviceTypeMonitor {
		return
	}
	if c.monitorID != "" && c.monitorID != p.Device.ID {
		c.log.Warn("monitor %s joined while %s is tracked, ignoring", p.Device.ID, c.monitorID)
		return
	}
	c.adoptMonitorLocked(p.Device.ID)
}

// adoptMonitorLocked acquires media and announces readiness toward one
// monitor. A capture failure is terminal for the device. Media already
// acquired in this generation is reused rather than reopened.
func (c *Camera) adoptMonitorLocked(monitorID string) {
	c.monitorID = monitorID

	if c.tracks == nil {
		tracks, err := c.capture.Open(c.ctx)
		if err != nil {
			c.log.Error("acquire media: %v", err)
			c.setStatusLocked(model.DeviceStatusError)
			return
		}
		c.tracks = tracks
	}

	ev := model.NewReadyEvent(model.EventTypeCameraReady, c.roomID, c.id, monitorID)
	if err := c.transport.Send(ev); err != nil {
		c.log.Warn("send camera_ready: %v", err)
	}
	c.setStatusLocked(model.DeviceStatusReady)
}

func (c *Camera) onMonitorReady(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != model.DeviceStatusReady {
		return
	}
	if ev.DeviceID != c.monitorID {
		c.log.Warn("monitor_ready from untracked device %s, ignoring", ev.DeviceID)
		return
	}
	p, err := ev.DecodeReady()
	if err != nil {
		c.log.Warn("bad monitor_ready payload: %v", err)
		return
	}
	if p.TargetDeviceID != c.id {
		return
	}

	hooks := rtc.Hooks{
		OnCandidate:   func(cand model.ICECandidatePayload) { c.sendCandidate(gen, cand) },
		OnStateChange: func(s rtc.State) { c.onSessionState(gen, s) },
	}
	sess, err := c.newSess(c.rtcCfg, c.monitorID, hooks)
	if err != nil {
		c.log.Error("create session: %v", err)
		c.setStatusLocked(model.DeviceStatusError)
		return
	}
	if err := sess.AddLocalTracks(c.tracks); err != nil {
		c.log.Error("attach media: %v", err)
		sess.Close()
		c.setStatusLocked(model.DeviceStatusError)
		return
	}
	sdp, err := sess.CreateOffer()
	if err != nil {
		c.log.Error("create offer: %v", err)
		sess.Close()
		c.setStatusLocked(model.DeviceStatusError)
		return
	}
	c.sess = sess

	out := model.NewSDPEvent(model.EventTypeOffer, c.roomID, c.id, c.monitorID, sdp)
	if err := c.transport.Send(out); err != nil {
		c.log.Warn("send offer: %v", err)
	}
	c.setStatusLocked(model.DeviceStatusStreaming)
}

func (c *Camera) onAnswer(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != model.DeviceStatusStreaming || c.sess == nil {
		return
	}
	p, err := ev.DecodeSDP()
	if err != nil {
		c.log.Warn("bad answer payload: %v", err)
		return
	}
	if p.TargetDeviceID != c.id || ev.DeviceID != c.monitorID {
		return
	}
	if err := c.sess.ApplyAnswer(p.SDP); err != nil {
		c.log.Error("apply answer: %v", err)
	}
}

func (c *Camera) onCandidate(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.sess == nil {
		return
	}
	if c.status != model.DeviceStatusReady && c.status != model.DeviceStatusStreaming {
		return
	}
	p, err := ev.DecodeICECandidate()
	if err != nil {
		c.log.Warn("bad ice_candidate payload: %v", err)
		return
	}
	if p.TargetDeviceID != c.id {
		return
	}
	if err := c.sess.AddRemoteCandidate(*p); err != nil {
		c.log.Debug("add remote candidate: %v", err)
	}
}

func (c *Camera) onLeaveRoom(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.monitorID == "" || ev.DeviceID != c.monitorID {
		return
	}
	c.log.Info("monitor %s left the room", c.monitorID)
	c.teardownSessionLocked()
	c.releaseCaptureLocked()
	c.monitorID = ""
	if c.status == model.DeviceStatusReady || c.status == model.DeviceStatusStreaming {
		c.setStatusLocked(model.DeviceStatusConnected)
	}
}

func (c *Camera) onServerError(gen int, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if p, err := ev.DecodeError(); err == nil {
		c.log.Error("signaling error: %s", p.Error)
	}
	c.teardownSessionLocked()
	c.setStatusLocked(model.DeviceStatusError)
}

// sendCandidate forwards one locally gathered candidate to the monitor.
// Runs on a media stack goroutine.
func (c *Camera) sendCandidate(gen int, p model.ICECandidatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.monitorID == "" || c.transport == nil {
		return
	}
	ev := model.NewICECandidateEvent(c.roomID, c.id, p)
	if err := c.transport.Send(ev); err != nil {
		c.log.Warn("send ice_candidate: %v", err)
	}
}

// onSessionState reacts to session transitions. Connectivity loss during
// streaming tears the session down, regresses to connected and re-announces
// readiness toward the still-tracked monitor, so the counterpart can restart
// negotiation with a fresh monitor_ready instead of a full room rejoin.
func (c *Camera) onSessionState(gen int, s rtc.State) {
	// Ready and negotiating are emitted synchronously from session calls
	// made under this controller's lock; they must not re-enter it.
	if s != rtc.StateError {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.status == model.DeviceStatusStreaming {
		c.log.Warn("session toward %s lost, regressing", c.monitorID)
		c.teardownSessionLocked()
		c.setStatusLocked(model.DeviceStatusConnected)
		c.adoptMonitorLocked(c.monitorID)
	}
}

func (c *Camera) releaseCaptureLocked() {
	if c.capture != nil && c.tracks != nil {
		if err := c.capture.Close(); err != nil {
			c.log.Warn("close capture: %v", err)
		}
	}
	c.tracks = nil
}

func (c *Camera) teardownSessionLocked() {
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
}

func (c *Camera) setStatusLocked(s model.DeviceStatus) {
	if c.status == s {
		return
	}
	old := c.status
	c.status = s
	c.log.Info("status %s -> %s", old, s)
	transition(c.trace, c.id, model.DeviceTypeCamera, "", old, s)
	select {
	case c.statusCh <- StatusChange{Old: old, New: s}:
	default:
	}
}
