package service

import (
	"time"

	"evoting-core/encryption"
	"evoting-core/models"
)

// Phase reports where now falls relative to the election window.
func Phase(e *models.Election, now time.Time) models.Phase {
	return e.PhaseAt(now)
}

// AcceptsVote is true when start <= now <= end. An unusable election never
// accepts votes.
func AcceptsVote(e *models.Election, now time.Time) bool {
	return e.Status != models.StatusUnusable && e.PhaseAt(now) == models.PhaseOpen
}

// ResultsAvailable is true strictly after the end of the window.
func ResultsAvailable(e *models.Election, now time.Time) bool {
	return now.After(e.EndTime)
}

// ElectionState is the derived view returned by ElectionStatus.
type ElectionState struct {
	ElectionID       string                `json:"election_id"`
	Name             string                `json:"election_name"`
	Phase            models.Phase          `json:"phase"`
	Status           models.ElectionStatus `json:"status"`
	AcceptsVote      bool                  `json:"accepts_vote"`
	ResultsAvailable bool                  `json:"results_available"`
	StartTime        time.Time             `json:"start_time"`
	EndTime          time.Time             `json:"end_time"`
	KeyBits          int                   `json:"key_bits"`
	SecurityBits     int                   `json:"security_bits"`
	Now              time.Time             `json:"now"`
	Candidates       []*models.Candidate   `json:"candidates"`
}

func stateOf(e *models.Election, candidates []*models.Candidate, now time.Time) *ElectionState {
	var keyBits int
	if e.PublicKey != nil && e.PublicKey.N != nil {
		keyBits = e.PublicKey.N.BitLen()
	}
	return &ElectionState{
		ElectionID:       e.ID,
		Name:             e.Name,
		Phase:            Phase(e, now),
		Status:           e.StatusAt(now),
		AcceptsVote:      AcceptsVote(e, now),
		ResultsAvailable: ResultsAvailable(e, now),
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		KeyBits:          keyBits,
		SecurityBits:     encryption.SecurityBits(keyBits),
		Now:              now,
		Candidates:       candidates,
	}
}
