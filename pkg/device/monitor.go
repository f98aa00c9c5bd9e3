package device

import (
	"context"
	"sync"

	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
	"github.com/watchroom/watchroom/pkg/signaling"
	"github.com/watchroom/watchroom/pkg/trace"
)

// MonitorOptions configures a monitor controller.
type MonitorOptions struct {
	DeviceID string
	RoomID   string
	// Transports builds a fresh signaling channel for every join.
	Transports TransportFactory
	// Sessions builds one negotiation unit per camera.
	Sessions rtc.Factory
	RTC      rtc.Config
	Trace    trace.Recorder
	Log      *logger.Logger
}

// Monitor is the sink-side controller. It tracks every camera in the room
// through an independent CameraLink sub-machine and surfaces their media
// to its observers keyed by camera id. The monitor's own status reflects
// room membership and transport health only, never link progress.
type Monitor struct {
	id      string
	roomID  string
	rtcCfg  rtc.Config
	newTr   TransportFactory
	newSess rtc.Factory
	trace   trace.Recorder
	log     *logger.Logger

	mu        sync.Mutex
	status    model.DeviceStatus
	gen       int
	transport signaling.Transport
	links     map[string]*CameraLink

	statusCh chan StatusChange
	updates  chan CameraUpdate
}

var _ Controller = (*Monitor)(nil)

// NewMonitor builds a monitor controller in the init status.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Sessions == nil {
		opts.Sessions = rtc.NewPeer
	}
	if opts.Trace == nil {
		opts.Trace = trace.Nop{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefault("watchroom")
	}
	return &Monitor{
		id:       opts.DeviceID,
		roomID:   opts.RoomID,
		rtcCfg:   opts.RTC,
		newTr:    opts.Transports,
		newSess:  opts.Sessions,
		trace:    opts.Trace,
		log:      opts.Log.Child("monitor"),
		status:   model.DeviceStatusInit,
		links:    map[string]*CameraLink{},
		statusCh: make(chan StatusChange, notifyBuffer),
		updates:  make(chan CameraUpdate, notifyBuffer),
	}
}

func (m *Monitor) ID() string             { return m.id }
func (m *Monitor) RoomID() string         { return m.roomID }
func (m *Monitor) Role() model.DeviceType { return model.DeviceTypeMonitor }

// StatusChanges delivers device-level transitions.
func (m *Monitor) StatusChanges() <-chan StatusChange { return m.statusCh }

// Updates delivers per-camera link changes: additions, status moves with
// media handles, and removals. Buffered; a slow consumer loses updates,
// never blocks event handling.
func (m *Monitor) Updates() <-chan CameraUpdate { return m.updates }

func (m *Monitor) Status() model.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Peers snapshots every tracked camera's link status.
func (m *Monitor) Peers() map[string]model.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.DeviceStatus, len(m.links))
	for id, l := range m.links {
		out[id] = l.status
	}
	return out
}

// Streams snapshots the media handles of every link that is receiving.
func (m *Monitor) Streams() map[string]*rtc.RemoteTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]*rtc.RemoteTrack{}
	for id, l := range m.links {
		if l.track != nil {
			out[id] = l.track
		}
	}
	return out
}

// JoinRoom opens a fresh signaling channel and enters the wait status. It
// is legal only from init; any other status warns and does nothing.
func (m *Monitor) JoinRoom(ctx context.Context) error {
	m.mu.Lock()
	if m.status != model.DeviceStatusInit {
		m.log.Warn("join ignored in status %s", m.status)
		m.mu.Unlock()
		return nil
	}
	m.setStatusLocked(model.DeviceStatusWait)
	gen := m.gen

	tr := m.newTr(signaling.Params{
		DeviceID:   m.id,
		DeviceType: model.DeviceTypeMonitor,
		RoomID:     m.roomID,
	})
	m.transport = tr
	tr.On(model.EventTypeConnect, func(ev *model.Event) { m.onConnect(gen, ev) })
	tr.On(model.EventTypeJoinRoom, func(ev *model.Event) { m.onJoinRoom(gen, ev) })
	tr.On(model.EventTypeLeaveRoom, func(ev *model.Event) { m.onLeaveRoom(gen, ev) })
	tr.On(model.EventTypeCameraReady, func(ev *model.Event) { m.onCameraReady(gen, ev) })
	tr.On(model.EventTypeOffer, func(ev *model.Event) { m.onOffer(gen, ev) })
	tr.On(model.EventTypeIceCandidate, func(ev *model.Event) { m.onCandidate(gen, ev) })
	tr.On(model.EventTypeError, func(ev *model.Event) { m.onServerError(gen, ev) })
	m.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		m.mu.Lock()
		if gen == m.gen {
			m.setStatusLocked(model.DeviceStatusError)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom tears down every link and closes signaling. Completions from
// the abandoned generation are dropped afterwards. Safe to call repeatedly.
func (m *Monitor) LeaveRoom() {
	m.mu.Lock()
	m.gen++
	for id, l := range m.links {
		l.closeLocked()
		delete(m.links, id)
		m.notifyLocked(CameraUpdate{CameraID: id, Kind: CameraRemoved})
	}
	tr := m.transport
	m.transport = nil
	m.setStatusLocked(model.DeviceStatusInit)
	m.mu.Unlock()

	if tr != nil {
		tr.Disconnect()
	}
}

// Reconnect leaves and rejoins the room on a fresh signaling channel.
func (m *Monitor) Reconnect(ctx context.Context) error {
	m.LeaveRoom()
	return m.JoinRoom(ctx)
}

func (m *Monitor) onConnect(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.status != model.DeviceStatusWait {
		return
	}
	m.setStatusLocked(model.DeviceStatusConnected)

	p, err := ev.DecodeConnect()
	if err != nil {
		m.log.Warn("bad connect payload: %v", err)
		return
	}
	for _, d := range p.Devices {
		if d.Type == model.DeviceTypeCamera {
			m.ensureLinkLocked(d.ID)
		}
	}
}

func (m *Monitor) onJoinRoom(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.status != model.DeviceStatusConnected {
		return
	}
	p, err := ev.DecodeJoinRoom()
	if err != nil || p.Device == nil {
		m.log.Warn("bad join_room payload: %v", err)
		return
	}
	if p.Device.Type != model.DeviceTypeCamera {
		return
	}
	m.ensureLinkLocked(p.Device.ID)
}

func (m *Monitor) onLeaveRoom(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	l, ok := m.links[ev.DeviceID]
	if !ok {
		return
	}
	m.log.Info("camera %s left the room", ev.DeviceID)
	l.closeLocked()
	delete(m.links, ev.DeviceID)
	m.notifyLocked(CameraUpdate{CameraID: ev.DeviceID, Kind: CameraRemoved})
}

// onCameraReady routes a readiness announcement to the camera's link,
// creating the link first if the announcement beat the membership event.
// An announcement to a failed link resets it for a fresh cycle.
func (m *Monitor) onCameraReady(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.status != model.DeviceStatusConnected {
		return
	}
	p, err := ev.DecodeReady()
	if err != nil {
		m.log.Warn("bad camera_ready payload: %v", err)
		return
	}
	if p.TargetDeviceID != m.id {
		return
	}
	l := m.ensureLinkLocked(ev.DeviceID)
	if l.status == model.DeviceStatusError {
		l.resetLocked()
	}
	l.handleCameraReadyLocked(gen)
}

func (m *Monitor) onOffer(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	p, err := ev.DecodeSDP()
	if err != nil {
		m.log.Warn("bad offer payload: %v", err)
		return
	}
	if p.TargetDeviceID != m.id {
		return
	}
	l, ok := m.links[ev.DeviceID]
	if !ok {
		m.log.Warn("offer from unknown camera %s, ignoring", ev.DeviceID)
		return
	}
	l.handleOfferLocked(p)
}

func (m *Monitor) onCandidate(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	p, err := ev.DecodeICECandidate()
	if err != nil {
		m.log.Warn("bad ice_candidate payload: %v", err)
		return
	}
	if p.TargetDeviceID != m.id {
		return
	}
	if l, ok := m.links[ev.DeviceID]; ok {
		l.handleCandidateLocked(p)
	}
}

func (m *Monitor) onServerError(gen int, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if p, err := ev.DecodeError(); err == nil {
		m.log.Error("signaling error: %s", p.Error)
	}
	m.setStatusLocked(model.DeviceStatusError)
}

// ensureLinkLocked returns the camera's link, creating and announcing a
// fresh one when the camera is new.
func (m *Monitor) ensureLinkLocked(cameraID string) *CameraLink {
	if l, ok := m.links[cameraID]; ok {
		return l
	}
	l := newCameraLink(m, cameraID)
	m.links[cameraID] = l
	m.log.Info("tracking camera %s", cameraID)
	m.notifyLocked(CameraUpdate{CameraID: cameraID, Kind: CameraAdded, Status: l.status})
	return l
}

// sendCandidate forwards one locally gathered candidate to a camera. Runs
// on a media stack goroutine.
func (m *Monitor) sendCandidate(gen int, cameraID string, p model.ICECandidatePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.transport == nil {
		return
	}
	if _, ok := m.links[cameraID]; !ok {
		return
	}
	ev := model.NewICECandidateEvent(m.roomID, m.id, p)
	if err := m.transport.Send(ev); err != nil {
		m.log.Warn("send ice_candidate: %v", err)
	}
}

// onTrack surfaces an arrived media track through the camera's link. Runs
// on a media stack goroutine.
func (m *Monitor) onTrack(gen int, cameraID string, t rtc.RemoteTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	l, ok := m.links[cameraID]
	if !ok {
		return
	}
	l.handleTrackLocked(t)
}

// onLinkSessionState relays session failures into the camera's link. Runs
// on a media stack goroutine.
func (m *Monitor) onLinkSessionState(gen int, cameraID string, s rtc.State) {
	// Ready and negotiating are emitted synchronously from session calls
	// made under this controller's lock; they must not re-enter it.
	if s != rtc.StateError {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if l, ok := m.links[cameraID]; ok {
		l.handleSessionErrorLocked()
	}
}

func (m *Monitor) notifyLocked(u CameraUpdate) {
	select {
	case m.updates <- u:
	default:
	}
}

func (m *Monitor) setStatusLocked(s model.DeviceStatus) {
	if m.status == s {
		return
	}
	old := m.status
	m.status = s
	m.log.Info("status %s -> %s", old, s)
	transition(m.trace, m.id, model.DeviceTypeMonitor, "", old, s)
	select {
	case m.statusCh <- StatusChange{Old: old, New: s}:
	default:
	}
}
