package domain

import "time"

// Point is a 2D canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Session is one connected participant's identity and live state within a
// room. A session belongs to exactly one room at a time. Liveness is derived
// from the underlying connection, it is not stored here.
type Session struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	Cursor       *Point    `json:"cursor,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}
