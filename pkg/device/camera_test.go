package device

import (
	"context"
	"errors"
	"testing"

	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
)

func newTestCamera(t *testing.T) (*Camera, *transportHub, *sessionHub, *fakeSource) {
	t.Helper()
	th := &transportHub{}
	sh := &sessionHub{}
	src := &fakeSource{}
	cam := NewCamera(CameraOptions{
		DeviceID:   "camA",
		RoomID:     "room1",
		Transports: th.factory,
		Sessions:   sh.factory,
		Capture:    src,
		Log:        testLogger(),
	})
	return cam, th, sh, src
}

// joinWithMonitor drives the camera to the ready status with monA tracked.
func joinWithMonitor(t *testing.T, cam *Camera, th *transportHub) *fakeTransport {
	t.Helper()
	if err := cam.JoinRoom(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	tr := th.last()
	tr.deliver(snapshotEvent("room1", "camA", monitorDevice("monA", "room1")))
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Fatalf("status after snapshot = %s, want ready", got)
	}
	return tr
}

// streamToMonitor additionally completes the monitor_ready/offer exchange.
func streamToMonitor(t *testing.T, cam *Camera, th *transportHub) *fakeTransport {
	t.Helper()
	tr := joinWithMonitor(t, cam, th)
	tr.deliver(model.NewReadyEvent(model.EventTypeMonitorReady, "room1", "monA", "camA"))
	if got := cam.Status(); got != model.DeviceStatusStreaming {
		t.Fatalf("status after monitor_ready = %s, want streaming", got)
	}
	return tr
}

func TestCameraJoinDiscoversMonitorFromSnapshot(t *testing.T) {
	cam, th, _, src := newTestCamera(t)

	if err := cam.JoinRoom(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	tr := th.last()
	if tr.params.DeviceID != "camA" || tr.params.DeviceType != model.DeviceTypeCamera || tr.params.RoomID != "room1" {
		t.Errorf("transport params = %+v", tr.params)
	}
	if got := cam.Status(); got != model.DeviceStatusWait {
		t.Fatalf("status after join = %s, want wait", got)
	}

	tr.deliver(snapshotEvent("room1", "camA", monitorDevice("monA", "room1")))
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
	if cam.MonitorID() != "monA" {
		t.Errorf("monitor id = %q, want monA", cam.MonitorID())
	}
	if src.openCount() != 1 {
		t.Errorf("capture opened %d times, want 1", src.openCount())
	}

	ready := tr.sentOfType(model.EventTypeCameraReady)
	if len(ready) != 1 {
		t.Fatalf("sent %d camera_ready events, want 1", len(ready))
	}
	p, err := ready[0].DecodeReady()
	if err != nil || p.TargetDeviceID != "monA" {
		t.Errorf("camera_ready target = %+v, err %v", p, err)
	}
}

func TestCameraEmptySnapshotWaitsForJoin(t *testing.T) {
	cam, th, _, _ := newTestCamera(t)

	cam.JoinRoom(context.Background())
	tr := th.last()
	tr.deliver(snapshotEvent("room1", "camA"))
	if got := cam.Status(); got != model.DeviceStatusConnected {
		t.Fatalf("status = %s, want connected", got)
	}

	tr.deliver(joinEvent("room1", monitorDevice("monA", "room1")))
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Fatalf("status after monitor join = %s, want ready", got)
	}
}

func TestCameraJoinIgnoredOutsideInit(t *testing.T) {
	cam, th, _, _ := newTestCamera(t)

	cam.JoinRoom(context.Background())
	if err := cam.JoinRoom(context.Background()); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if th.count() != 1 {
		t.Errorf("expected 1 transport, got %d", th.count())
	}
	if got := cam.Status(); got != model.DeviceStatusWait {
		t.Errorf("status = %s, want wait", got)
	}
}

func TestCameraConnectFailure(t *testing.T) {
	cam, th, _, _ := newTestCamera(t)
	th.connectErr = errors.New("dial refused")

	if err := cam.JoinRoom(context.Background()); err == nil {
		t.Fatal("expected join error")
	}
	if got := cam.Status(); got != model.DeviceStatusError {
		t.Errorf("status = %s, want error", got)
	}
}

func TestCameraCaptureFailureIsTerminal(t *testing.T) {
	cam, th, _, src := newTestCamera(t)
	src.openErr = errors.New("no device")

	cam.JoinRoom(context.Background())
	th.last().deliver(snapshotEvent("room1", "camA", monitorDevice("monA", "room1")))
	if got := cam.Status(); got != model.DeviceStatusError {
		t.Fatalf("status = %s, want error", got)
	}
	if len(th.last().sentOfType(model.EventTypeCameraReady)) != 0 {
		t.Error("camera_ready sent despite capture failure")
	}
}

func TestCameraNegotiation(t *testing.T) {
	cam, th, sh, _ := newTestCamera(t)
	tr := streamToMonitor(t, cam, th)

	sess := sh.last()
	if sess == nil || sess.peerID != "monA" {
		t.Fatalf("session = %+v, want peer monA", sess)
	}
	if sess.tracks == nil {
		t.Error("local tracks not attached before offer")
	}
	offers := tr.sentOfType(model.EventTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers, want 1", len(offers))
	}
	p, _ := offers[0].DecodeSDP()
	if p.TargetDeviceID != "monA" || p.SDP == "" {
		t.Errorf("offer payload = %+v", p)
	}

	// The monitor answers.
	tr.deliver(model.NewSDPEvent(model.EventTypeAnswer, "room1", "monA", "camA", "the-answer"))
	if len(sess.answers) != 1 || sess.answers[0] != "the-answer" {
		t.Errorf("applied answers = %v", sess.answers)
	}
	if got := cam.Status(); got != model.DeviceStatusStreaming {
		t.Errorf("status after answer = %s, want streaming", got)
	}

	// Remote candidate trickles in.
	tr.deliver(model.NewICECandidateEvent("room1", "monA", model.ICECandidatePayload{
		TargetDeviceID: "camA",
		Candidate:      "candidate:1",
	}))
	if len(sess.candidates) != 1 {
		t.Errorf("applied %d remote candidates, want 1", len(sess.candidates))
	}

	// Locally gathered candidate goes out addressed to the monitor.
	sess.hooks.OnCandidate(model.ICECandidatePayload{TargetDeviceID: "monA", Candidate: "candidate:2"})
	if len(tr.sentOfType(model.EventTypeIceCandidate)) != 1 {
		t.Error("local candidate was not forwarded")
	}

	if peers := cam.Peers(); peers["monA"] != model.DeviceStatusReady {
		t.Errorf("peer status = %v", peers)
	}
}

func TestCameraMonitorReadyFromUntrackedIgnored(t *testing.T) {
	cam, th, sh, _ := newTestCamera(t)
	tr := joinWithMonitor(t, cam, th)

	tr.deliver(model.NewReadyEvent(model.EventTypeMonitorReady, "room1", "monB", "camA"))
	if sh.count() != 0 {
		t.Error("session created for untracked monitor")
	}
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestCameraSecondMonitorJoinIgnored(t *testing.T) {
	cam, th, _, src := newTestCamera(t)
	tr := joinWithMonitor(t, cam, th)

	tr.deliver(joinEvent("room1", monitorDevice("monB", "room1")))
	if cam.MonitorID() != "monA" {
		t.Errorf("monitor id = %q, want monA", cam.MonitorID())
	}
	if len(tr.sentOfType(model.EventTypeCameraReady)) != 1 {
		t.Error("readiness re-announced for second monitor")
	}
	if src.openCount() != 1 {
		t.Errorf("capture opened %d times, want 1", src.openCount())
	}
}

func TestCameraCandidateWithoutSessionIgnored(t *testing.T) {
	cam, th, _, _ := newTestCamera(t)
	tr := joinWithMonitor(t, cam, th)

	// No session yet in ready; must not crash.
	tr.deliver(model.NewICECandidateEvent("room1", "monA", model.ICECandidatePayload{
		TargetDeviceID: "camA",
		Candidate:      "candidate:1",
	}))
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestCameraMonitorLeaveRegressesToConnected(t *testing.T) {
	cam, th, sh, src := newTestCamera(t)
	tr := streamToMonitor(t, cam, th)

	tr.deliver(leaveEvent("room1", "monA"))
	if got := cam.Status(); got != model.DeviceStatusConnected {
		t.Fatalf("status = %s, want connected", got)
	}
	if !sh.last().closed {
		t.Error("session not closed on monitor leave")
	}
	if cam.MonitorID() != "" {
		t.Errorf("monitor id = %q, want empty", cam.MonitorID())
	}
	if src.closes != 1 {
		t.Errorf("capture closed %d times, want 1", src.closes)
	}

	// A monitor joining later restarts the announce cycle.
	tr.deliver(joinEvent("room1", monitorDevice("monB", "room1")))
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Errorf("status after new monitor = %s, want ready", got)
	}
	if src.openCount() != 2 {
		t.Errorf("capture opened %d times, want 2", src.openCount())
	}
}

func TestCameraConnectivityLossReannounces(t *testing.T) {
	cam, th, sh, src := newTestCamera(t)
	tr := streamToMonitor(t, cam, th)
	sess := sh.last()

	sess.hooks.OnStateChange(rtc.StateError)
	if !sess.closed {
		t.Error("failed session not torn down")
	}
	if got := cam.Status(); got != model.DeviceStatusReady {
		t.Fatalf("status = %s, want ready after re-announce", got)
	}
	if cam.MonitorID() != "monA" {
		t.Errorf("monitor id = %q, want monA retained", cam.MonitorID())
	}
	if got := len(tr.sentOfType(model.EventTypeCameraReady)); got != 2 {
		t.Errorf("sent %d camera_ready events, want 2", got)
	}
	// Media is reused across the restart, not reopened.
	if src.openCount() != 1 {
		t.Errorf("capture opened %d times, want 1", src.openCount())
	}

	// The monitor's fresh readiness restarts negotiation.
	tr.deliver(model.NewReadyEvent(model.EventTypeMonitorReady, "room1", "monA", "camA"))
	if got := cam.Status(); got != model.DeviceStatusStreaming {
		t.Errorf("status = %s, want streaming", got)
	}
	if sh.count() != 2 {
		t.Errorf("created %d sessions, want 2", sh.count())
	}
}

func TestCameraServerErrorIsTerminal(t *testing.T) {
	cam, th, sh, _ := newTestCamera(t)
	tr := joinWithMonitor(t, cam, th)

	tr.deliver(errorEvent("room1", "room full"))
	if got := cam.Status(); got != model.DeviceStatusError {
		t.Fatalf("status = %s, want error", got)
	}

	// Terminal: later negotiation events are ignored.
	tr.deliver(model.NewReadyEvent(model.EventTypeMonitorReady, "room1", "monA", "camA"))
	if sh.count() != 0 {
		t.Error("session created after terminal error")
	}
	if got := cam.Status(); got != model.DeviceStatusError {
		t.Errorf("status = %s, want error", got)
	}
}

func TestCameraLeaveRoomIdempotentAndDropsStaleCompletions(t *testing.T) {
	cam, th, sh, src := newTestCamera(t)
	tr := streamToMonitor(t, cam, th)
	sess := sh.last()

	cam.LeaveRoom()
	if got := cam.Status(); got != model.DeviceStatusInit {
		t.Fatalf("status = %s, want init", got)
	}
	if !sess.closed {
		t.Error("session not closed on leave")
	}
	if src.closes != 1 {
		t.Errorf("capture closed %d times, want 1", src.closes)
	}
	if tr.disconnects != 1 {
		t.Errorf("transport disconnected %d times, want 1", tr.disconnects)
	}

	// Stale completions from the abandoned generation must not resurrect
	// any state.
	sess.hooks.OnStateChange(rtc.StateError)
	sess.hooks.OnCandidate(model.ICECandidatePayload{Candidate: "candidate:9"})
	if got := cam.Status(); got != model.DeviceStatusInit {
		t.Errorf("status after stale completion = %s, want init", got)
	}

	cam.LeaveRoom()
	if got := cam.Status(); got != model.DeviceStatusInit {
		t.Errorf("status after second leave = %s, want init", got)
	}

	// A fresh join starts over cleanly.
	if err := cam.JoinRoom(context.Background()); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if th.count() != 2 {
		t.Errorf("expected a fresh transport on rejoin, got %d", th.count())
	}
}

func TestCameraSessionCreationFailureIsTerminal(t *testing.T) {
	cam, th, sh, _ := newTestCamera(t)
	tr := joinWithMonitor(t, cam, th)

	sh.createErr = errors.New("no codecs")
	tr.deliver(model.NewReadyEvent(model.EventTypeMonitorReady, "room1", "monA", "camA"))
	if got := cam.Status(); got != model.DeviceStatusError {
		t.Errorf("status = %s, want error", got)
	}
}
