package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/watchroom/watchroom/pkg/model"
)

// Peer is the webrtc-backed Session. It owns the underlying peer connection
// exclusively; the controller that created it is the only writer.
type Peer struct {
	peerID string
	pc     *webrtc.PeerConnection
	hooks  Hooks

	mu      sync.Mutex
	state   State
	closing bool
}

var _ Session = (*Peer)(nil)

// NewPeer creates a negotiation unit toward one remote peer. The returned
// unit is Ready: constructed, wired, and waiting for the offer/answer
// exchange to start.
func NewPeer(cfg Config, peerID string, hooks Hooks) (Session, error) {
	pc, err := webrtc.NewPeerConnection(cfg.webrtcConfiguration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		peerID: peerID,
		pc:     pc,
		hooks:  hooks,
		state:  StateInit,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || p.hooks.OnCandidate == nil {
			return
		}
		init := cand.ToJSON()
		payload := model.ICECandidatePayload{
			TargetDeviceID: peerID,
			Candidate:      init.Candidate,
		}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *init.SDPMLineIndex
		}
		p.hooks.OnCandidate(payload)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.setState(StateActive)
		if p.hooks.OnTrack == nil {
			return
		}
		p.hooks.OnTrack(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
			Codec:    track.Codec().MimeType,
			Track:    track,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.setState(StateActive)
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			p.setState(StateError)
		}
	})

	p.setState(StateReady)
	return p, nil
}

// setState transitions the unit and notifies the owner. Error is terminal
// and transitions are suppressed while the owner tears the unit down.
func (p *Peer) setState(s State) {
	p.mu.Lock()
	if p.closing || p.state == s || p.state == StateError {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.mu.Unlock()

	if p.hooks.OnStateChange != nil {
		p.hooks.OnStateChange(s)
	}
}

// State returns the unit's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PeerID returns the counterpart device id.
func (p *Peer) PeerID() string {
	return p.peerID
}

// AddLocalTracks attaches local media before the offer is generated.
func (p *Peer) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		if _, err := p.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add local track %s: %w", track.ID(), err)
		}
	}
	return nil
}

// CreateOffer generates and applies the local description, returning its
// SDP. Candidates trickle through the OnCandidate hook afterwards.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	p.setState(StateNegotiating)
	return offer.SDP, nil
}

// ApplyAnswer applies the counterpart's answer as the remote description.
func (p *Peer) ApplyAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// ApplyOfferCreateAnswer applies a remote offer and returns the generated
// answer's SDP.
func (p *Peer) ApplyOfferCreateAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("apply offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	p.setState(StateNegotiating)
	return answer.SDP, nil
}

// AddRemoteCandidate applies a trickled reachability candidate.
func (p *Peer) AddRemoteCandidate(c model.ICECandidatePayload) error {
	mid := c.SDPMid
	index := c.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// Close stops the underlying media session. Hooks no longer fire afterwards.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	_ = p.pc.Close()
}
