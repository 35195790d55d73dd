package models

import "time"

type TallyMethod string

const (
	// TallyPerBallot decrypts every ballot and sums in plaintext.
	TallyPerBallot TallyMethod = "per-ballot"
	// TallyAggregate sums ciphertexts per candidate and decrypts only the totals.
	TallyAggregate TallyMethod = "aggregate"
)

type CandidateCount struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name"`
	PartyName   string `json:"party_name"`
	Ordinal     int    `json:"ordinal"`
	Votes       int    `json:"votes"`
}

type TallyResult struct {
	ElectionID  string           `json:"election_id"`
	Method      TallyMethod      `json:"method"`
	Candidates  []CandidateCount `json:"candidates"`
	Winner      *CandidateCount  `json:"winner,omitempty"`
	TotalVoters int              `json:"total_voters"`
	VotersVoted int              `json:"voters_voted"`
	// Demographics counts registered voters by gender; TurnoutByGender counts the
	// subset who cast a ballot.
	Demographics    map[string]int `json:"demographics"`
	TurnoutByGender map[string]int `json:"turnout_by_gender"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// PickWinner returns the candidate with the most votes. Ties go to the lowest
// ordinal. It returns nil when no votes were counted.
func PickWinner(counts []CandidateCount) *CandidateCount {
	var winner *CandidateCount
	for i := range counts {
		c := &counts[i]
		if c.Votes == 0 {
			continue
		}
		if winner == nil || c.Votes > winner.Votes {
			winner = c
		}
	}
	if winner == nil {
		return nil
	}
	w := *winner
	return &w
}
