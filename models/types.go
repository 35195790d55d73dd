package models

import (
	"time"

	"evoting-core/encryption"
)

// ElectionStatus is advisory metadata. The authoritative state is always derived
// from the stored window; see Election.PhaseAt.
type ElectionStatus string

const (
	StatusCreated  ElectionStatus = "created"
	StatusOngoing  ElectionStatus = "ongoing"
	StatusClosed   ElectionStatus = "closed"
	StatusUnusable ElectionStatus = "unusable"
)

// Phase is the three-way distinguishable state of an election at a point in time.
type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhaseOpen       Phase = "open"
	PhaseClosed     Phase = "closed"
)

type Election struct {
	ID        string                `json:"election_id"`
	Name      string                `json:"election_name"`
	PublicKey *encryption.PublicKey `json:"public_key"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Status    ElectionStatus        `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
}

// PhaseAt compares now against the voting window. Both boundaries belong to the
// open phase.
func (e *Election) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(e.StartTime):
		return PhaseNotStarted
	case now.After(e.EndTime):
		return PhaseClosed
	default:
		return PhaseOpen
	}
}

// StatusAt derives the status for now. An unusable election stays unusable.
func (e *Election) StatusAt(now time.Time) ElectionStatus {
	if e.Status == StatusUnusable {
		return StatusUnusable
	}
	switch e.PhaseAt(now) {
	case PhaseNotStarted:
		return StatusCreated
	case PhaseOpen:
		return StatusOngoing
	default:
		return StatusClosed
	}
}

// KeyRecord holds the sealed private key of one election. Only the key vault
// reads or writes EncryptedPrivateKey.
type KeyRecord struct {
	KeyID               string    `json:"key_id"`
	ElectionID          string    `json:"election_id"`
	EncryptedPrivateKey string    `json:"encrypted_private_key"`
	CreatedAt           time.Time `json:"created_at"`
}

// Candidate ordinals are assigned once at creation and define the ballot index.
type Candidate struct {
	ID         string `json:"candidate_id"`
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
	PartyName  string `json:"party_name"`
	Ordinal    int    `json:"ordinal"`
}
