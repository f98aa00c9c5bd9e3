package device

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
	"github.com/watchroom/watchroom/pkg/signaling"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, "test", logger.DebugLevel)
}

type registration struct {
	t model.EventType
	h signaling.Handler
}

// fakeTransport is an in-memory signaling channel. deliver pushes an
// envelope through the registered handlers synchronously, exactly like the
// real transport's read loop.
type fakeTransport struct {
	mu          sync.Mutex
	params      signaling.Params
	handlers    []registration
	sent        []*model.Event
	connected   bool
	connectErr  error
	disconnects int
}

func (f *fakeTransport) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) Send(ev *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return signaling.ErrNotConnected
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) On(t model.EventType, h signaling.Handler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, registration{t, h})
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(ev *model.Event) {
	f.mu.Lock()
	handlers := append([]registration(nil), f.handlers...)
	f.mu.Unlock()
	for _, reg := range handlers {
		if reg.t == ev.Type {
			reg.h(ev)
		}
	}
	for _, reg := range handlers {
		if reg.t == model.EventTypeAny {
			reg.h(ev)
		}
	}
}

func (f *fakeTransport) sentOfType(t model.EventType) []*model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Event
	for _, ev := range f.sent {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// transportHub hands out fakeTransports through the controllers' factory
// and remembers them so tests can drive the latest one.
type transportHub struct {
	mu         sync.Mutex
	transports []*fakeTransport
	connectErr error
}

func (h *transportHub) factory(p signaling.Params) signaling.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr := &fakeTransport{params: p, connectErr: h.connectErr}
	h.transports = append(h.transports, tr)
	return tr
}

func (h *transportHub) last() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	return h.transports[len(h.transports)-1]
}

func (h *transportHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

// fakeSession records the negotiation calls made against it and exposes its
// hooks so tests can fire media stack callbacks.
type fakeSession struct {
	mu         sync.Mutex
	peerID     string
	hooks      rtc.Hooks
	state      rtc.State
	tracks     []webrtc.TrackLocal
	answers    []string
	offers     []string
	candidates []model.ICECandidatePayload
	closed     bool

	offerErr      error
	applyOfferErr error
}

func (s *fakeSession) State() rtc.State { return s.state }
func (s *fakeSession) PeerID() string   { return s.peerID }

func (s *fakeSession) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = tracks
	return nil
}

func (s *fakeSession) CreateOffer() (string, error) {
	if s.offerErr != nil {
		return "", s.offerErr
	}
	return "offer-from-" + s.peerID, nil
}

func (s *fakeSession) ApplyAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sdp)
	return nil
}

func (s *fakeSession) ApplyOfferCreateAnswer(sdp string) (string, error) {
	if s.applyOfferErr != nil {
		return "", s.applyOfferErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sdp)
	return "answer-to-" + s.peerID, nil
}

func (s *fakeSession) AddRemoteCandidate(p model.ICECandidatePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, p)
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type sessionHub struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	createErr error
}

func (h *sessionHub) factory(_ rtc.Config, peerID string, hooks rtc.Hooks) (rtc.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return nil, h.createErr
	}
	s := &fakeSession{peerID: peerID, hooks: hooks, state: rtc.StateReady}
	h.sessions = append(h.sessions, s)
	return s, nil
}

func (h *sessionHub) last() *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		return nil
	}
	return h.sessions[len(h.sessions)-1]
}

func (h *sessionHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// fakeSource counts acquisitions and releases.
type fakeSource struct {
	mu      sync.Mutex
	opens   int
	closes  int
	open    bool
	openErr error
}

func (s *fakeSource) Open(context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.open {
		return nil, errors.New("capture already open")
	}
	s.open = true
	s.opens++
	return []webrtc.TrackLocal{}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.open = false
		s.closes++
	}
	return nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Envelope builders mirroring what the signaling server and peers emit.

func snapshotEvent(roomID, deviceID string, devices ...*model.Device) *model.Event {
	ev, _ := model.NewEvent(model.EventTypeConnect, roomID, deviceID, model.ConnectPayload{Devices: devices})
	return ev
}

func joinEvent(roomID string, d *model.Device) *model.Event {
	ev, _ := model.NewEvent(model.EventTypeJoinRoom, roomID, d.ID, model.JoinRoomPayload{Device: d})
	return ev
}

func leaveEvent(roomID, deviceID string) *model.Event {
	ev, _ := model.NewEvent(model.EventTypeLeaveRoom, roomID, deviceID, nil)
	return ev
}

func errorEvent(roomID, msg string) *model.Event {
	ev, _ := model.NewEvent(model.EventTypeError, roomID, "", model.ErrorPayload{Error: msg})
	return ev
}

func cameraDevice(id, roomID string) *model.Device {
	return &model.Device{ID: id, Type: model.DeviceTypeCamera, RoomID: roomID}
}

func monitorDevice(id, roomID string) *model.Device {
	return &model.Device{ID: id, Type: model.DeviceTypeMonitor, RoomID: roomID}
}
