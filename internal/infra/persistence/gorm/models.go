// Package gormpersistence implements the durable persistence adapter on
// MySQL via GORM. Records mirror the domain model flattened for storage;
// element geometry is kept as a JSON text column.
package gormpersistence

import "time"

type RoomRecord struct {
	ID             string    `gorm:"primaryKey;size:32"`
	MaxSessions    int       `gorm:"not null"`
	IsPublic       bool      `gorm:"not null"`
	AllowAnonymous bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	LastActivity   time.Time `gorm:"index"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (RoomRecord) TableName() string { return "rooms" }

type SessionRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	RoomID       string    `gorm:"index;size:32;not null"`
	Name         string    `gorm:"size:191"`
	Color        string    `gorm:"size:64"`
	JoinedAt     time.Time `gorm:"not null"`
	LastActiveAt time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (SessionRecord) TableName() string { return "sessions" }

type ElementRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	RoomID     string    `gorm:"index;size:32;not null"`
	Type       string    `gorm:"size:20;not null"`
	Properties string    `gorm:"type:text;not null"`
	Version    uint64    `gorm:"not null"`
	IsDeleted  bool      `gorm:"not null;default:false"`
	CreatedBy  string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (ElementRecord) TableName() string { return "elements" }
