package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/encryption"
	"evoting-core/keyvault"
	"evoting-core/models"
	"evoting-core/storage"
)

// VoteCountingService turns stored ballots into a TallyResult. It never runs
// before the caller has checked that results are available.
type VoteCountingService struct {
	store      storage.Repository
	vault      KeyVault
	scheme     encryption.HomomorphicEncryptionScheme
	queue      *QueueProcessor
	anonymizer *AnonymizationService

	mu      sync.RWMutex
	results map[string]*models.TallyResult
}

func NewVoteCountingService(store storage.Repository, vault KeyVault, scheme encryption.HomomorphicEncryptionScheme, queue *QueueProcessor) *VoteCountingService {
	return &VoteCountingService{
		store:      store,
		vault:      vault,
		scheme:     scheme,
		queue:      queue,
		anonymizer: NewAnonymizationService(),
		results:    make(map[string]*models.TallyResult),
	}
}

// CountVotes tallies the election with the given method. Any key, decryption or
// ballot failure aborts the whole tally; there are no partial results.
func (vcs *VoteCountingService) CountVotes(ctx context.Context, election *models.Election, method models.TallyMethod, now time.Time) (*models.TallyResult, error) {
	logger := log.With().Str("election_id", election.ID).Str("method", string(method)).Logger()

	candidates, err := vcs.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list candidates of election %s", election.ID)
	}
	ballots, err := vcs.store.ListBallots(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ballots of election %s", election.ID)
	}
	voters, err := vcs.store.ListVoters(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list voters of election %s", election.ID)
	}

	sk, err := vcs.loadPrivateKey(ctx, election)
	if err != nil {
		logger.Error().Err(err).Msg("Election key unavailable, tally aborted")
		return nil, err
	}

	var counts []int
	switch method {
	case models.TallyAggregate:
		counts, err = vcs.aggregate(ctx, election.PublicKey, sk, len(candidates), ballots)
	default:
		method = models.TallyPerBallot
		counts, err = vcs.perBallot(ctx, sk, len(candidates), ballots)
	}
	if err != nil {
		var malformed *MalformedBallotError
		if errors.As(err, &malformed) {
			logger.Error().Err(err).Str("vote_id", malformed.VoteID).Msg("Malformed ballot, tally aborted")
		} else {
			logger.Error().Err(err).Msg("Tally failed")
		}
		return nil, err
	}

	result := &models.TallyResult{
		ElectionID:      election.ID,
		Method:          method,
		Candidates:      make([]models.CandidateCount, len(candidates)),
		TotalVoters:     len(voters),
		VotersVoted:     len(ballots),
		Demographics:    make(map[string]int),
		TurnoutByGender: make(map[string]int),
		ComputedAt:      now,
	}
	for i, c := range candidates {
		result.Candidates[i] = models.CandidateCount{
			CandidateID: c.ID,
			Name:        c.Name,
			PartyName:   c.PartyName,
			Ordinal:     c.Ordinal,
			Votes:       counts[i],
		}
	}
	result.Winner = models.PickWinner(result.Candidates)

	voted := make(map[string]bool, len(ballots))
	for _, b := range ballots {
		voted[b.VoterID] = true
	}
	for _, v := range voters {
		result.Demographics[v.Gender]++
		if voted[v.VoterID] {
			result.TurnoutByGender[v.Gender]++
		}
	}

	vcs.mu.Lock()
	vcs.results[election.ID] = result
	vcs.mu.Unlock()

	logger.Info().
		Int("ballots", len(ballots)).
		Int("voters", len(voters)).
		Msg("Tally complete")
	return result, nil
}

// loadPrivateKey releases the election key and checks it belongs to the election.
func (vcs *VoteCountingService) loadPrivateKey(ctx context.Context, election *models.Election) (*encryption.PrivateKey, error) {
	material, err := vcs.vault.Retrieve(ctx, election.ID)
	if err != nil {
		return nil, err
	}
	defer wipe(material)

	sk, err := encryption.ParsePrivateKey(material)
	if err != nil {
		return nil, errors.Wrapf(keyvault.ErrDecryptionFailure, "stored key for election %s is unreadable: %v", election.ID, err)
	}
	if !sk.PublicKey().Equal(election.PublicKey) {
		return nil, errors.Wrapf(keyvault.ErrDecryptionFailure, "stored key does not match election %s", election.ID)
	}
	return sk, nil
}

// perBallot decrypts every ballot individually and counts selections by ordinal.
func (vcs *VoteCountingService) perBallot(ctx context.Context, sk *encryption.PrivateKey, candidates int, ballots []*models.Ballot) ([]int, error) {
	anonymous, err := vcs.anonymizer.AnonymizeBallots(ballots)
	if err != nil {
		return nil, err
	}
	choices, err := vcs.queue.DecryptAll(ctx, sk, candidates, anonymous)
	if err != nil {
		return nil, err
	}

	counts := make([]int, candidates)
	for _, choice := range choices {
		counts[choice]++
	}
	return counts, nil
}

// aggregate sums each candidate slot across all ballots under encryption and
// decrypts the per-candidate totals. Column sums cannot tell a one-hot ballot
// from a forged vector whose slots add up to one, so every ballot is first
// checked by the per-ballot decryption and the totals must agree with it.
func (vcs *VoteCountingService) aggregate(ctx context.Context, pk *encryption.PublicKey, sk *encryption.PrivateKey, candidates int, ballots []*models.Ballot) ([]int, error) {
	expected, err := vcs.perBallot(ctx, sk, candidates, ballots)
	if err != nil {
		return nil, err
	}

	columns := make([][]*encryption.Ciphertext, candidates)
	for _, b := range ballots {
		cts, err := encryption.ParseCiphertexts(b.EncryptedVote)
		if err != nil {
			return nil, &MalformedBallotError{VoteID: b.VoteID, Err: errors.Wrap(encryption.ErrMalformedBallot, err.Error())}
		}
		for slot, c := range cts {
			columns[slot] = append(columns[slot], c)
		}
	}

	counts := make([]int, candidates)
	for slot, column := range columns {
		sum, err := vcs.scheme.Sum(pk, column)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sum slot %d", slot)
		}
		m, err := vcs.scheme.Decrypt(sk, sum)
		if err != nil {
			return nil, errors.Wrapf(keyvault.ErrDecryptionFailure, "slot %d: %v", slot, err)
		}
		if !m.IsInt64() || m.Int64() != int64(expected[slot]) {
			return nil, errors.Wrapf(encryption.ErrMalformedBallot,
				"candidate %d aggregate total %s disagrees with %d decrypted ballots", slot, m, expected[slot])
		}
		counts[slot] = expected[slot]
	}
	return counts, nil
}

// GetLatestResults returns the last result computed for the election.
func (vcs *VoteCountingService) GetLatestResults(electionID string) (*models.TallyResult, bool) {
	vcs.mu.RLock()
	defer vcs.mu.RUnlock()

	result, ok := vcs.results[electionID]
	return result, ok
}
