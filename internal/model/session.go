package model

import "time"

// SessionState is the lifecycle state of a LinkSession.
type SessionState string

const (
	StatePending  SessionState = "PENDING"
	StateVerified SessionState = "VERIFIED"
	StateConsumed SessionState = "CONSUMED"
	StateExpired  SessionState = "EXPIRED"
)

// Terminal reports whether no further transition out of this state is allowed.
func (s SessionState) Terminal() bool {
	return s == StateConsumed || s == StateExpired
}

// LinkSession is an in-progress Minecraft↔Discord identity verification attempt.
// The token doubles as the DNS label the player visits to complete verification.
type LinkSession struct {
	Token         string       `json:"token"`
	DiscordUserID string       `json:"discord_user_id"`
	MinecraftUUID *string      `json:"minecraft_uuid,omitempty"`
	State         SessionState `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// Expired reports whether the session is past its TTL at the given instant.
func (s *LinkSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IdentityBinding is the durable mapping between one Minecraft account and
// one Discord account. Created once per successful verification, deleted
// only by explicit admin unlink.
type IdentityBinding struct {
	MinecraftUUID string    `json:"minecraft_uuid"`
	DiscordUserID string    `json:"discord_user_id"`
	LinkedAt      time.Time `json:"linked_at"`
}
