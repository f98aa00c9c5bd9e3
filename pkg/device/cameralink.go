package device

import (
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
)

// CameraLink is the monitor's per-camera sub-machine. It moves
// init -> ready -> connecting -> receiving as negotiation progresses, with
// error reachable from connecting and receiving. Links are owned exclusively
// by their monitor; every method below runs with the monitor's mutex held.
type CameraLink struct {
	m        *Monitor
	cameraID string
	status   model.DeviceStatus
	sess     rtc.Session
	track    *rtc.RemoteTrack
}

func newCameraLink(m *Monitor, cameraID string) *CameraLink {
	return &CameraLink{m: m, cameraID: cameraID, status: model.DeviceStatusInit}
}

// Status returns the sub-machine's own status, independent of the monitor's.
func (l *CameraLink) Status() model.DeviceStatus { return l.status }

// Track returns the remote media handle once it has arrived, or nil.
func (l *CameraLink) Track() *rtc.RemoteTrack { return l.track }

// handleCameraReadyLocked answers a camera's readiness announcement: it
// creates the negotiation unit and tells the camera this monitor is ready.
// Legal only from init; a repeat announcement mid-negotiation is ignored.
func (l *CameraLink) handleCameraReadyLocked(gen int) {
	if l.status != model.DeviceStatusInit {
		l.m.log.Debug("camera_ready from %s ignored in status %s", l.cameraID, l.status)
		return
	}
	cameraID := l.cameraID
	hooks := rtc.Hooks{
		OnCandidate:   func(p model.ICECandidatePayload) { l.m.sendCandidate(gen, cameraID, p) },
		OnTrack:       func(t rtc.RemoteTrack) { l.m.onTrack(gen, cameraID, t) },
		OnStateChange: func(s rtc.State) { l.m.onLinkSessionState(gen, cameraID, s) },
	}
	sess, err := l.m.newSess(l.m.rtcCfg, cameraID, hooks)
	if err != nil {
		l.m.log.Error("create session toward %s: %v", cameraID, err)
		l.setStatusLocked(model.DeviceStatusError)
		return
	}
	l.sess = sess

	ev := model.NewReadyEvent(model.EventTypeMonitorReady, l.m.roomID, l.m.id, cameraID)
	if err := l.m.transport.Send(ev); err != nil {
		l.m.log.Warn("send monitor_ready: %v", err)
	}
	l.setStatusLocked(model.DeviceStatusReady)
}

// handleOfferLocked applies the camera's offer and answers it. Legal only
// from ready, so a duplicate offer is a no-op rather than a renegotiation.
func (l *CameraLink) handleOfferLocked(p *model.SDPPayload) {
	if l.status != model.DeviceStatusReady || l.sess == nil {
		l.m.log.Debug("offer from %s ignored in status %s", l.cameraID, l.status)
		return
	}
	answer, err := l.sess.ApplyOfferCreateAnswer(p.SDP)
	if err != nil {
		l.m.log.Error("answer offer from %s: %v", l.cameraID, err)
		l.setStatusLocked(model.DeviceStatusError)
		return
	}
	ev := model.NewSDPEvent(model.EventTypeAnswer, l.m.roomID, l.m.id, l.cameraID, answer)
	if err := l.m.transport.Send(ev); err != nil {
		l.m.log.Warn("send answer: %v", err)
	}
	l.setStatusLocked(model.DeviceStatusConnecting)
}

// handleCandidateLocked trickles a remote candidate into the unit. Accepted
// only once negotiation is underway; earlier candidates are dropped.
func (l *CameraLink) handleCandidateLocked(p *model.ICECandidatePayload) {
	if l.sess == nil {
		return
	}
	if l.status != model.DeviceStatusConnecting && l.status != model.DeviceStatusReceiving {
		return
	}
	if err := l.sess.AddRemoteCandidate(*p); err != nil {
		l.m.log.Debug("add remote candidate from %s: %v", l.cameraID, err)
	}
}

// handleTrackLocked records the arrived media and moves to receiving.
func (l *CameraLink) handleTrackLocked(t rtc.RemoteTrack) {
	l.track = &t
	l.setStatusLocked(model.DeviceStatusReceiving)
}

// handleSessionErrorLocked marks the link failed. There is no automatic
// regression: the camera either leaves the room, removing the link, or
// re-announces readiness, which resets it.
func (l *CameraLink) handleSessionErrorLocked() {
	if l.status != model.DeviceStatusConnecting && l.status != model.DeviceStatusReceiving {
		return
	}
	l.m.log.Warn("link to camera %s lost", l.cameraID)
	l.teardownLocked()
	l.setStatusLocked(model.DeviceStatusError)
}

// resetLocked returns the link to init for a fresh negotiation cycle.
func (l *CameraLink) resetLocked() {
	l.teardownLocked()
	l.setStatusLocked(model.DeviceStatusInit)
}

// closeLocked tears the link down for permanent removal, without a status
// reset or notification.
func (l *CameraLink) closeLocked() {
	l.teardownLocked()
}

func (l *CameraLink) teardownLocked() {
	if l.sess != nil {
		l.sess.Close()
		l.sess = nil
	}
	l.track = nil
}

func (l *CameraLink) setStatusLocked(s model.DeviceStatus) {
	if l.status == s {
		return
	}
	old := l.status
	l.status = s
	l.m.log.Info("camera %s link %s -> %s", l.cameraID, old, s)
	transition(l.m.trace, l.m.id, model.DeviceTypeMonitor, l.cameraID, old, s)
	l.m.notifyLocked(CameraUpdate{
		CameraID: l.cameraID,
		Kind:     CameraUpdated,
		Status:   s,
		Track:    l.track,
	})
}
