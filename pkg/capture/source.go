// Package capture acquires the local media a camera device streams out.
// It stands in for a browser's user-media capture: sources expose pion
// local tracks that controllers attach to their negotiation unit.
package capture

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Source provides local media tracks. Open may be called again after Close
// when a device rejoins a room.
type Source interface {
	// Open acquires the media and returns the local tracks to publish.
	Open(ctx context.Context) ([]webrtc.TrackLocal, error)
	// Close releases the media.
	Close() error
}

// Static is a Source over pre-built tracks, for embedders that produce
// their own media and for tests.
type Static struct {
	Tracks []webrtc.TrackLocal
}

func (s *Static) Open(context.Context) ([]webrtc.TrackLocal, error) {
	return s.Tracks, nil
}

func (s *Static) Close() error { return nil }
