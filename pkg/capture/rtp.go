package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/watchroom/watchroom/pkg/logger"
)

// RTPSource ingests an RTP stream from a local UDP socket and republishes
// it as a pion local track. Feed it with any RTP producer, e.g.
//
//	ffmpeg -re -i cam.mp4 -c:v libvpx -f rtp rtp://127.0.0.1:5004
type RTPSource struct {
	listenAddr string
	mimeType   string
	log        *logger.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewRTPSource creates a video source reading RTP from listenAddr. The
// mime type must match the producer's codec; VP8 when empty.
func NewRTPSource(listenAddr, mimeType string, log *logger.Logger) *RTPSource {
	if mimeType == "" {
		mimeType = webrtc.MimeTypeVP8
	}
	return &RTPSource{
		listenAddr: listenAddr,
		mimeType:   mimeType,
		log:        log,
	}
}

// Open binds the UDP socket and starts pumping packets into the returned
// track. A bind failure is the camera's capture-denied case.
func (s *RTPSource) Open(ctx context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, errors.New("capture: already open")
	}

	addr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("capture: resolve %s: %w", s.listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("capture: listen %s: %w", s.listenAddr, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: s.mimeType}, "video", uuid.NewString())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("capture: create track: %w", err)
	}

	s.conn = conn
	s.log.Info("ingesting RTP on %s (%s)", conn.LocalAddr(), s.mimeType)

	go s.pump(conn, track)

	return []webrtc.TrackLocal{track}, nil
}

// pump copies RTP packets from the socket into the track until Close.
func (s *RTPSource) pump(conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := track.Write(buf[:n]); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			// Not bound to a sender yet; packets are dropped silently.
			s.log.Debug("track write: %v", err)
		}
	}
}

// Close releases the socket; the pump goroutine exits with it.
func (s *RTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
