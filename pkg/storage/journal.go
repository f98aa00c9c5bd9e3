package storage

import (
	"github.com/watchroom/watchroom/pkg/trace"
	"gorm.io/gorm"
)

// JournalRepository persists and queries state transitions.
type JournalRepository struct {
	db *gorm.DB
}

// NewJournalRepository migrates the journal table.
func NewJournalRepository(db *gorm.DB) *JournalRepository {
	db.AutoMigrate(&Transition{})
	return &JournalRepository{db: db}
}

// Append stores one transition.
func (r *JournalRepository) Append(tr *Transition) error {
	return r.db.Create(tr).Error
}

// Recent returns the latest transitions for a device, newest first.
func (r *JournalRepository) Recent(deviceID string, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*Transition
	err := r.db.Where("device_id = ?", deviceID).
		Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of journaled transitions.
func (r *JournalRepository) Count() (int, error) {
	var count int64
	if err := r.db.Model(&Transition{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Clear removes all journaled transitions.
func (r *JournalRepository) Clear() error {
	return r.db.Delete(&Transition{}, "1=1").Error
}

// Recorder adapts the journal to the controllers' trace hook.
type Recorder struct {
	Journal *JournalRepository
}

var _ trace.Recorder = Recorder{}

func (r Recorder) Record(tr trace.Transition) {
	// Journal writes are best effort; a failed insert must not disturb
	// the state machine that emitted the transition.
	_ = r.Journal.Append(&Transition{
		DeviceID:   tr.DeviceID,
		Role:       string(tr.Role),
		PeerID:     tr.PeerID,
		FromStatus: string(tr.From),
		ToStatus:   string(tr.To),
		At:         tr.At,
	})
}
