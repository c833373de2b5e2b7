package models

import "time"

// PoolStats summarizes the browser session pool.
type PoolStats struct {
	ActiveSessions int    `json:"activeSessions"`
	BrowserRunning bool   `json:"browserRunning"`
	Driver         string `json:"driver"`
}

// Cookie is a persisted browser cookie, saved after a successful session
// release and restored before the next login attempt for the same user.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// SessionArtifact is the stored per-user browser state: the cookie jar
// serialized to JSON plus the time it was captured.
type SessionArtifact struct {
	UserID  string    `json:"userId" gorm:"primaryKey;column:user_id"`
	Cookies string    `json:"-" gorm:"column:cookies"`
	SavedAt time.Time `json:"savedAt" gorm:"column:saved_at"`
}
