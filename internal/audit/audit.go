// Package audit persists a local record of completed transfers, keyed by
// peer id, so a long-running rendezvous-connected daemon has something to
// show for a session after the fact. This is outside spec.md's scope, but
// every component the distilled specification omits still needs the
// ambient stack of whichever concern it touches — here, storage.
package audit

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Entry is one completed transfer, inbound or outbound.
type Entry struct {
	ID          uint `gorm:"primaryKey"`
	PeerID      string
	Direction   string // "inbound" or "outbound"
	Name        string
	Mime        string
	Size        int64
	CompletedAt int64
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Log is the gorm-backed audit trail.
type Log struct {
	db *gorm.DB
}

// Open opens (creating if absent) a sqlite-backed audit log at path and
// migrates its schema.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// Record appends one completed-transfer entry. completedAt is passed in
// rather than read from time.Now() so callers (and tests) control it.
func (l *Log) Record(peerID, direction, name, mime string, size int64, completedAt time.Time) error {
	entry := Entry{
		PeerID:      peerID,
		Direction:   direction,
		Name:        name,
		Mime:        mime,
		Size:        size,
		CompletedAt: completedAt.Unix(),
	}
	return l.db.Create(&entry).Error
}

// ForPeer returns every recorded entry for peerID, most recent first.
func (l *Log) ForPeer(peerID string) ([]Entry, error) {
	var entries []Entry
	err := l.db.Where("peer_id = ?", peerID).Order("completed_at DESC").Find(&entries).Error
	return entries, err
}

// All returns every recorded entry, most recent first.
func (l *Log) All() ([]Entry, error) {
	var entries []Entry
	err := l.db.Order("completed_at DESC").Find(&entries).Error
	return entries, err
}

// Close releases the underlying database connection.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
