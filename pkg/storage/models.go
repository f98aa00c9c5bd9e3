package storage

import "time"

// Transition is one persisted state change: device-level when PeerID is
// empty, per-peer sub-machine otherwise.
type Transition struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID   string    `json:"device_id" gorm:"type:varchar(64);index"`
	Role       string    `json:"role" gorm:"type:varchar(10)"`
	PeerID     string    `json:"peer_id" gorm:"type:varchar(64)"`
	FromStatus string    `json:"from_status" gorm:"type:varchar(16)"`
	ToStatus   string    `json:"to_status" gorm:"type:varchar(16)"`
	At         time.Time `json:"at" gorm:"index"`
}

// TableName overrides the table name
func (Transition) TableName() string {
	return "transitions"
}
