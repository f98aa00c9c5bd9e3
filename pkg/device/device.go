// Package device implements the per-device signaling state machines: the
// camera (media source) controller, the monitor (media sink) controller,
// and the monitor's per-camera negotiation sub-machines.
package device

import (
	"context"
	"time"

	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
	"github.com/watchroom/watchroom/pkg/signaling"
	"github.com/watchroom/watchroom/pkg/trace"
)

// TransportFactory builds one signaling channel per join attempt. A fresh
// transport per join keeps stale handler registrations out of new sessions.
type TransportFactory func(p signaling.Params) signaling.Transport

// Controller is the role-independent surface both device controllers share.
type Controller interface {
	ID() string
	Role() model.DeviceType
	RoomID() string
	Status() model.DeviceStatus
	// Peers maps counterpart device ids to their negotiation status.
	Peers() map[string]model.DeviceStatus
	// JoinRoom is legal only from the init status; elsewhere it warns and
	// does nothing.
	JoinRoom(ctx context.Context) error
	// LeaveRoom tears down all sessions and media and returns to init.
	// Safe from any status, idempotent.
	LeaveRoom()
	// Reconnect is leave followed by a fresh join.
	Reconnect(ctx context.Context) error
}

// StatusChange is emitted on the controller's status channel for every
// device-level transition.
type StatusChange struct {
	Old model.DeviceStatus
	New model.DeviceStatus
}

// CameraUpdateKind tags monitor-side per-camera notifications.
type CameraUpdateKind string

const (
	CameraAdded   CameraUpdateKind = "added"
	CameraUpdated CameraUpdateKind = "updated"
	CameraRemoved CameraUpdateKind = "removed"
)

// CameraUpdate reports a change of one camera's sub-machine: its lifecycle
// in the monitor's map, its status, and the remote media once it arrives.
type CameraUpdate struct {
	CameraID string
	Kind     CameraUpdateKind
	Status   model.DeviceStatus
	Track    *rtc.RemoteTrack
}

const notifyBuffer = 32

func transition(rec trace.Recorder, id string, role model.DeviceType, peerID string, from, to model.DeviceStatus) {
	rec.Record(trace.Transition{
		DeviceID: id,
		Role:     role,
		PeerID:   peerID,
		From:     from,
		To:       to,
		At:       time.Now(),
	})
}

// sessionStatus maps a negotiation unit's state onto the shared device
// status vocabulary for the camera's single outbound session.
func sessionStatus(s rtc.State) model.DeviceStatus {
	switch s {
	case rtc.StateReady:
		return model.DeviceStatusReady
	case rtc.StateNegotiating:
		return model.DeviceStatusConnecting
	case rtc.StateActive:
		return model.DeviceStatusStreaming
	case rtc.StateError:
		return model.DeviceStatusError
	default:
		return model.DeviceStatusInit
	}
}
