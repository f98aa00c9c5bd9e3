package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every event kind carried on the signaling channel.
type EventType string

const (
	// Room membership events, emitted by the signaling server.
	EventTypeConnect      EventType = "connect"
	EventTypeJoinRoom     EventType = "join_room"
	EventTypeLeaveRoom    EventType = "leave_room"
	EventTypeDeviceUpdate EventType = "device_update"
	EventTypeError        EventType = "error"

	// Negotiation events, emitted by devices.
	EventTypeCameraReady  EventType = "camera_ready"
	EventTypeMonitorReady EventType = "monitor_ready"
	EventTypeOffer        EventType = "offer"
	EventTypeAnswer       EventType = "answer"
	EventTypeIceCandidate EventType = "ice_candidate"
)

// EventTypeAny subscribes a handler to every inbound event.
const EventTypeAny EventType = "*"

// Event is the envelope for all signaling traffic. Payload is a tagged
// union keyed by Type; use the Decode* helpers rather than unmarshalling
// into untyped maps.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"roomId"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConnectPayload is the room snapshot delivered when the channel opens.
type ConnectPayload struct {
	Device  *Device   `json:"device"`
	Devices []*Device `json:"devices"`
}

// JoinRoomPayload announces a peer joining the room.
type JoinRoomPayload struct {
	Device *Device `json:"device"`
}

// DeviceUpdatePayload carries an updated device descriptor.
type DeviceUpdatePayload struct {
	Device *Device `json:"device"`
}

// ReadyPayload is shared by camera_ready and monitor_ready.
type ReadyPayload struct {
	TargetDeviceID string `json:"targetDeviceId"`
}

// SDPPayload is shared by offer and answer.
type SDPPayload struct {
	TargetDeviceID string `json:"targetDeviceId"`
	SDP            string `json:"sdp"`
}

// ICECandidatePayload trickles one reachability candidate to a peer.
type ICECandidatePayload struct {
	TargetDeviceID string `json:"targetDeviceId"`
	Candidate      string `json:"candidate"`
	SDPMid         string `json:"sdpMid"`
	SDPMLineIndex  uint16 `json:"sdpMLineIndex"`
}

// ErrorPayload reports a server-side failure.
type ErrorPayload struct {
	Error string `json:"error"`
}

// nowMillis matches the wire format's millisecond timestamps.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewEvent builds an envelope with the given typed payload.
func NewEvent(t EventType, roomID, deviceID string, payload any) (*Event, error) {
	ev := &Event{
		Type:      t,
		RoomID:    roomID,
		DeviceID:  deviceID,
		Timestamp: nowMillis(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// NewReadyEvent builds a camera_ready or monitor_ready envelope.
func NewReadyEvent(t EventType, roomID, deviceID, targetID string) *Event {
	ev, _ := NewEvent(t, roomID, deviceID, ReadyPayload{TargetDeviceID: targetID})
	return ev
}

// NewSDPEvent builds an offer or answer envelope.
func NewSDPEvent(t EventType, roomID, deviceID, targetID, sdp string) *Event {
	ev, _ := NewEvent(t, roomID, deviceID, SDPPayload{TargetDeviceID: targetID, SDP: sdp})
	return ev
}

// NewICECandidateEvent builds an ice_candidate envelope.
func NewICECandidateEvent(roomID, deviceID string, p ICECandidatePayload) *Event {
	ev, _ := NewEvent(EventTypeIceCandidate, roomID, deviceID, p)
	return ev
}

func (e *Event) decode(want EventType, v any) error {
	if e.Type != want {
		return fmt.Errorf("event type is %s, not %s", e.Type, want)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", want, err)
	}
	return nil
}

// DecodeConnect extracts the room snapshot from a connect event.
func (e *Event) DecodeConnect() (*ConnectPayload, error) {
	var p ConnectPayload
	if err := e.decode(EventTypeConnect, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeJoinRoom extracts the joining device from a join_room event.
func (e *Event) DecodeJoinRoom() (*JoinRoomPayload, error) {
	var p JoinRoomPayload
	if err := e.decode(EventTypeJoinRoom, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeReady extracts the target from a camera_ready or monitor_ready event.
func (e *Event) DecodeReady() (*ReadyPayload, error) {
	if e.Type != EventTypeCameraReady && e.Type != EventTypeMonitorReady {
		return nil, fmt.Errorf("event type is %s, not a ready event", e.Type)
	}
	var p ReadyPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return &p, nil
}

// DecodeSDP extracts the session description from an offer or answer event.
func (e *Event) DecodeSDP() (*SDPPayload, error) {
	if e.Type != EventTypeOffer && e.Type != EventTypeAnswer {
		return nil, fmt.Errorf("event type is %s, not an SDP event", e.Type)
	}
	var p SDPPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return &p, nil
}

// DecodeICECandidate extracts the candidate from an ice_candidate event.
func (e *Event) DecodeICECandidate() (*ICECandidatePayload, error) {
	var p ICECandidatePayload
	if err := e.decode(EventTypeIceCandidate, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeError extracts the message from an error event.
func (e *Event) DecodeError() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := e.decode(EventTypeError, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
