package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/watchroom/watchroom/pkg/model"
)

// State is the negotiation unit's lifecycle.
type State string

const (
	StateInit        State = "init"
	StateReady       State = "ready"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateError       State = "error"
)

// RemoteTrack is the handle surfaced when the counterpart's media arrives.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
	Track    *webrtc.TrackRemote
}

// Hooks wires a session's asynchronous signals to its owner. Hooks are set
// once at construction and never replaced; they may be invoked from media
// stack goroutines, so owners must do their own serialization.
type Hooks struct {
	// OnCandidate fires for every locally gathered reachability candidate.
	OnCandidate func(model.ICECandidatePayload)
	// OnTrack fires when remote media arrives.
	OnTrack func(RemoteTrack)
	// OnStateChange fires on every unit state transition. Ready and
	// negotiating fire synchronously inside the constructor and the
	// offer/answer calls; owners must not take locks they already hold.
	OnStateChange func(State)
}

// Config carries the negotiation parameters shared by all units of a device.
type Config struct {
	ICEServers []string
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// Session drives one point-to-point media negotiation: the offer/answer
// exchange and candidate trickling for a single remote peer.
type Session interface {
	State() State
	PeerID() string
	AddLocalTracks(tracks []webrtc.TrackLocal) error
	CreateOffer() (string, error)
	ApplyAnswer(sdp string) error
	ApplyOfferCreateAnswer(sdp string) (string, error)
	AddRemoteCandidate(p model.ICECandidatePayload) error
	Close()
}

// Factory builds one Session per remote peer. Controllers hold a Factory so
// tests can substitute the media stack.
type Factory func(cfg Config, peerID string, hooks Hooks) (Session, error)
