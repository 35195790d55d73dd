package service

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"

	"evoting-core/models"
)

// AnonymousBallot is what the decryption workers see: the ciphertexts and the
// vote id needed to report a malformed ballot, but no voter.
type AnonymousBallot struct {
	VoteID        string
	EncryptedVote []string
}

type AnonymizationService struct{}

func NewAnonymizationService() *AnonymizationService {
	return &AnonymizationService{}
}

// AnonymizeBallots strips voter ids and shuffles the ballots so decryption order
// says nothing about cast order.
func (as *AnonymizationService) AnonymizeBallots(ballots []*models.Ballot) ([]*AnonymousBallot, error) {
	out := make([]*AnonymousBallot, len(ballots))
	for i, b := range ballots {
		out[i] = &AnonymousBallot{
			VoteID:        b.VoteID,
			EncryptedVote: b.EncryptedVote,
		}
	}

	// Fisher-Yates with crypto/rand
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to shuffle ballots")
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return out, nil
}
