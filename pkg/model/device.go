package model

// DeviceType identifies the role a device plays in a room.
type DeviceType string

const (
	// DeviceTypeCamera is the media source role.
	DeviceTypeCamera DeviceType = "camera"
	// DeviceTypeMonitor is the media sink role.
	DeviceTypeMonitor DeviceType = "monitor"
)

// Valid reports whether t is one of the known roles.
func (t DeviceType) Valid() bool {
	return t == DeviceTypeCamera || t == DeviceTypeMonitor
}

// DeviceStatus is the shared status enumeration. It is used both for a
// controller's own device-level status and for the per-peer sub-machine
// status on the monitor side; the two are independent instances.
type DeviceStatus string

const (
	DeviceStatusInit      DeviceStatus = "init"
	DeviceStatusWait      DeviceStatus = "wait"
	DeviceStatusConnected DeviceStatus = "connected"

	// Camera side.
	DeviceStatusReady     DeviceStatus = "ready"
	DeviceStatusStreaming DeviceStatus = "streaming"

	// Monitor per-camera side.
	DeviceStatusConnecting DeviceStatus = "connecting"
	DeviceStatusReceiving  DeviceStatus = "receiving"

	DeviceStatusError DeviceStatus = "error"
)

// Device describes a device announced to a room. Identity is caller
// supplied; uniqueness within a room is a deployment invariant, not
// validated here.
type Device struct {
	ID         string       `json:"id"`
	Type       DeviceType   `json:"type"`
	Status     DeviceStatus `json:"status"`
	RoomID     string       `json:"roomId"`
	Name       string       `json:"name,omitempty"`
	CreateTime int64        `json:"createTime"`
	UpdateTime int64        `json:"updateTime"`
}
