// Package trace receives state-transition records from the device
// controllers. Recorders are injected; the controllers never log
// transitions as a hardwired side effect.
package trace

import (
	"time"

	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
)

// Transition describes one state change of a device or of a per-peer
// sub-machine (PeerID empty for device-level transitions).
type Transition struct {
	DeviceID string
	Role     model.DeviceType
	PeerID   string
	From     model.DeviceStatus
	To       model.DeviceStatus
	At       time.Time
}

// Recorder consumes transitions. Implementations must not block the caller;
// transitions are emitted from event-handling paths.
type Recorder interface {
	Record(tr Transition)
}

// Nop discards all transitions.
type Nop struct{}

func (Nop) Record(Transition) {}

// LogRecorder writes transitions to the application logger.
type LogRecorder struct {
	Log *logger.Logger
}

func (r LogRecorder) Record(tr Transition) {
	if tr.PeerID != "" {
		r.Log.Info("%s %s: peer %s %s -> %s", tr.Role, tr.DeviceID, tr.PeerID, tr.From, tr.To)
		return
	}
	r.Log.Info("%s %s: %s -> %s", tr.Role, tr.DeviceID, tr.From, tr.To)
}

// Multi fans transitions out to several recorders.
func Multi(rs ...Recorder) Recorder {
	return multi(rs)
}

type multi []Recorder

func (m multi) Record(tr Transition) {
	for _, r := range m {
		r.Record(tr)
	}
}
