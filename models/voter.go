package models

import (
	"time"

	"evoting-core/encryption"
)

type Voter struct {
	VoterID    string                `json:"voter_id"`
	ElectionID string                `json:"election_id"`
	Name       string                `json:"name"`
	Email      string                `json:"email"`
	Gender     string                `json:"gender"`
	PublicKey  *encryption.PublicKey `json:"public_key"`
	CreatedAt  time.Time             `json:"created_at"`
}
