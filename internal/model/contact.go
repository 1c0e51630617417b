package model

import (
	"time"
)

// ContactProfile accumulates what is known about one correspondent.
type ContactProfile struct {
	Address      string    `json:"address" db:"address"`
	Profile      string    `json:"profile" db:"profile"`
	MessageCount int       `json:"message_count" db:"message_count"`
	FirstSeen    time.Time `json:"first_seen" db:"first_seen"`
	LastSeen     time.Time `json:"last_seen" db:"last_seen"`
}
