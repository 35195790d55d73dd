package models

import "time"

// Ballot is one voter's encrypted one-hot selection. EncryptedVote holds one decimal
// ciphertext per candidate, in ordinal order.
type Ballot struct {
	VoteID        string    `json:"vote_id"`
	VoterID       string    `json:"voter_id"`
	ElectionID    string    `json:"election_id"`
	EncryptedVote []string  `json:"encrypted_vote"`
	RandomValue   string    `json:"random_value"`
	ReceiptHash   string    `json:"receipt_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Receipt is what a voter can see about their own ballot. It never carries plaintext.
type Receipt struct {
	VoteID      string    `json:"vote_id"`
	VoterID     string    `json:"voter_id"`
	ElectionID  string    `json:"election_id"`
	ReceiptHash string    `json:"receipt_hash"`
	RandomValue string    `json:"random_value"`
	CreatedAt   time.Time `json:"created_at"`
}

func (b *Ballot) Receipt() *Receipt {
	return &Receipt{
		VoteID:      b.VoteID,
		VoterID:     b.VoterID,
		ElectionID:  b.ElectionID,
		ReceiptHash: b.ReceiptHash,
		RandomValue: b.RandomValue,
		CreatedAt:   b.CreatedAt,
	}
}
