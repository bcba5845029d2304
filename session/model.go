package session

import "time"

// Entry is one live login session of a principal.
type Entry struct {
	Principal string
	FamilyID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LiveAt reports whether the entry is still live at now.
func (e Entry) LiveAt(now time.Time) bool {
	return e.ExpiresAt.After(now)
}
