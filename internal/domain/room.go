// Package domain defines the data model shared across the server: rooms,
// sessions, elements and the errors their operations report.
package domain

import "time"

// RoomSettings is the per-room configuration chosen at creation time.
type RoomSettings struct {
	MaxSessions    int  `json:"maxSessions"`
	IsPublic       bool `json:"isPublic"`
	AllowAnonymous bool `json:"allowAnonymous"`
}

// DefaultRoomSettings returns the settings applied when a create or join
// request does not supply any.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		MaxSessions:    50,
		IsPublic:       true,
		AllowAnonymous: true,
	}
}

// Room is the metadata of one collaborative session. Live state (elements,
// sessions) is owned by the room's processing loop, not by this value.
type Room struct {
	ID           string       `json:"id"`
	Settings     RoomSettings `json:"settings"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

// RoomSummary is the per-room entry of a rooms_list response.
type RoomSummary struct {
	ID           string    `json:"id"`
	UserCount    int       `json:"userCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsPublic     bool      `json:"isPublic"`
}
