package models

import "time"

// Participant represents a person entering the raffle.
// ID is unique within one uploaded batch.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Profile is the cached view of a creator account fetched from the social API.
// A stored Profile is never modified; a refresh replaces it with a new record.
type Profile struct {
	Username      string    `json:"username"`
	DisplayName   string    `json:"displayName"`
	FollowerCount int64     `json:"followerCount"`
	AvatarURL     string    `json:"avatarUrl"`
	Verified      bool      `json:"verified"`
	Bio           string    `json:"bio"`
	LikesCount    int64     `json:"likesCount"`
	VideoCount    int64     `json:"videoCount"`
	BioLink       string    `json:"bioLink,omitempty"`
	CachedAt      time.Time `json:"cachedAt"`
}

// Age reports how long ago the profile was stored.
func (p *Profile) Age(now time.Time) time.Duration {
	return now.Sub(p.CachedAt)
}

// DrawResult stores the outcome of a single draw.
// Profile is nil when enrichment failed; ProfileError then carries the reason.
type DrawResult struct {
	Winner       Participant `json:"winner"`
	Profile      *Profile    `json:"profile,omitempty"`
	ProfileError string      `json:"profileError,omitempty"`
	DrawnAt      time.Time   `json:"drawnAt"`
}
