package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/encryption"
	"evoting-core/models"
	"evoting-core/storage"
)

// KeyVault seals and releases per-election private key material.
type KeyVault interface {
	Store(ctx context.Context, electionID string, material []byte) (string, error)
	Retrieve(ctx context.Context, electionID string) ([]byte, error)
}

// Config tunes the service. Zero values pick defaults.
type Config struct {
	KeySize      int
	TallyWorkers int
	// Now is the clock used for every window decision.
	Now func() time.Time
}

// VotingService is the entry point for every core operation. It keeps no
// per-election state of its own besides cached tally results, so several
// instances can share one repository.
type VotingService struct {
	store               storage.Repository
	vault               KeyVault
	scheme              encryption.HomomorphicEncryptionScheme
	cryptoService       *encryption.CryptoService
	verificationService *VoterVerificationService
	countingService     *VoteCountingService
	metricsCollector    *MetricsCollector
	now                 func() time.Time
}

type RegisterVoterRequest struct {
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Gender     string `json:"gender"`
}

type CastVoteRequest struct {
	VoterID       string   `json:"voter_id"`
	ElectionID    string   `json:"election_id"`
	EncryptedVote []string `json:"encrypted_vote"`
	RandomValue   string   `json:"random_value"`
}

const maxRandomValueLength = 256

func NewVotingService(store storage.Repository, vault KeyVault, cfg Config) (*VotingService, error) {
	if store == nil || vault == nil {
		return nil, errors.New("voting service needs a store and a key vault")
	}
	if cfg.KeySize == 0 {
		cfg.KeySize = encryption.DefaultKeySize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	scheme, err := encryption.NewPaillierScheme(cfg.KeySize)
	if err != nil {
		return nil, err
	}

	if bits := scheme.EstimatedSecurityBits(); bits < encryption.MinSecureBits {
		log.Warn().
			Int("key_bits", cfg.KeySize).
			Int("security_bits", bits).
			Msg("Election keys are below the recommended strength")
	}

	metrics := NewMetricsCollector()
	vs := &VotingService{
		store:               store,
		vault:               vault,
		scheme:              scheme,
		cryptoService:       encryption.NewCryptoService(),
		verificationService: NewVoterVerificationService(),
		metricsCollector:    metrics,
		now:                 cfg.Now,
	}
	vs.countingService = NewVoteCountingService(store, vault, scheme, NewQueueProcessor(scheme, cfg.TallyWorkers))
	return vs, nil
}

func (vs *VotingService) clock() time.Time {
	return vs.now().UTC()
}

// GetMetrics returns current metrics for all operations
func (vs *VotingService) GetMetrics() MetricsResponse {
	return vs.metricsCollector.GetMetrics()
}

func (vs *VotingService) loadElection(ctx context.Context, electionID string) (*models.Election, error) {
	electionID, err := vs.verificationService.verifyID("election_id", electionID)
	if err != nil {
		return nil, err
	}
	election, err := vs.store.GetElection(ctx, electionID)
	if err != nil {
		return nil, notFound(err, "election %s", electionID)
	}
	return election, nil
}

// RegisterVoter binds a voter to one election. Registering the same email again
// only refreshes the stored public key.
func (vs *VotingService) RegisterVoter(ctx context.Context, req RegisterVoterRequest) (voter *models.Voter, err error) {
	defer func(start time.Time) { vs.metricsCollector.Record(OpRegistration, start, err) }(time.Now())

	name, err := vs.verificationService.verifyName("name", req.Name)
	if err != nil {
		return nil, err
	}
	email, err := vs.verificationService.normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	election, err := vs.loadElection(ctx, req.ElectionID)
	if err != nil {
		return nil, err
	}
	if election.Status == models.StatusUnusable {
		return nil, invalid("election_id", "election %s is unusable", election.ID)
	}

	voter, err = vs.store.UpsertVoter(ctx, &models.Voter{
		VoterID:    uuid.NewString(),
		ElectionID: election.ID,
		Name:       name,
		Email:      email,
		Gender:     vs.verificationService.normalizeGender(req.Gender),
		PublicKey:  election.PublicKey,
		CreatedAt:  vs.clock(),
	})
	if err != nil {
		return nil, notFound(err, "failed to register voter")
	}

	log.Info().
		Str("election_id", election.ID).
		Str("voter_id", voter.VoterID).
		Msg("Voter registered")
	return voter, nil
}

// EncryptBallot builds the one-hot ballot for candidateIndex under the
// election's public key.
func (vs *VotingService) EncryptBallot(ctx context.Context, electionID string, candidateIndex int) ([]string, error) {
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	candidates, err := vs.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list candidates of election %s", election.ID)
	}
	if candidateIndex < 0 || candidateIndex >= len(candidates) {
		return nil, invalid("candidate_index", "%d is outside [0, %d)", candidateIndex, len(candidates))
	}

	ballot, err := vs.scheme.EncryptOneHot(election.PublicKey, candidateIndex, len(candidates))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt ballot")
	}
	return encryption.FormatCiphertexts(ballot), nil
}

// CastVote records an encrypted ballot. The store's uniqueness constraint on
// (voter, election) decides duplicates; there is no separate pre-check.
func (vs *VotingService) CastVote(ctx context.Context, req CastVoteRequest) (ballot *models.Ballot, err error) {
	defer func(start time.Time) { vs.metricsCollector.Record(OpVoting, start, err) }(time.Now())

	voterID, err := vs.verificationService.verifyID("voter_id", req.VoterID)
	if err != nil {
		return nil, err
	}
	if len(req.EncryptedVote) == 0 {
		return nil, invalid("encrypted_vote", "is required")
	}
	if len(req.RandomValue) > maxRandomValueLength {
		return nil, invalid("random_value", "longer than %d characters", maxRandomValueLength)
	}

	election, err := vs.loadElection(ctx, req.ElectionID)
	if err != nil {
		return nil, err
	}
	voter, err := vs.store.GetVoter(ctx, voterID)
	if err != nil {
		return nil, notFound(err, "voter %s", voterID)
	}
	if voter.ElectionID != election.ID {
		return nil, errors.Wrapf(ErrNotFound, "voter %s is not registered for election %s", voter.VoterID, election.ID)
	}

	now := vs.clock()
	if !AcceptsVote(election, now) {
		return nil, &ElectionNotOpenError{
			ElectionID: election.ID,
			Phase:      Phase(election, now),
			Start:      election.StartTime,
			End:        election.EndTime,
			Now:        now,
		}
	}

	candidates, err := vs.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list candidates of election %s", election.ID)
	}
	if len(req.EncryptedVote) != len(candidates) {
		return nil, invalid("encrypted_vote", "has %d entries, election has %d candidates",
			len(req.EncryptedVote), len(candidates))
	}
	cts, err := encryption.ParseCiphertexts(req.EncryptedVote)
	if err != nil {
		return nil, invalid("encrypted_vote", "%v", err)
	}
	for i, c := range cts {
		if err := c.Validate(election.PublicKey); err != nil {
			return nil, invalid("encrypted_vote", "slot %d: %v", i, err)
		}
	}

	randomValue := strings.TrimSpace(req.RandomValue)
	if randomValue == "" {
		if randomValue, err = vs.cryptoService.GenerateNonce(); err != nil {
			return nil, err
		}
	}

	ballot = &models.Ballot{
		VoteID:        uuid.NewString(),
		VoterID:       voter.VoterID,
		ElectionID:    election.ID,
		EncryptedVote: encryption.FormatCiphertexts(cts),
		RandomValue:   randomValue,
		CreatedAt:     now,
	}
	ballot.ReceiptHash = vs.cryptoService.ReceiptHash(election.ID, voter.VoterID, cts, randomValue)

	if err := vs.store.InsertBallot(ctx, ballot); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Warn().
				Str("election_id", election.ID).
				Str("voter_id", voter.VoterID).
				Msg("Duplicate vote rejected")
			return nil, errors.Wrapf(ErrDuplicateVote, "voter %s", voter.VoterID)
		}
		return nil, notFound(err, "failed to store ballot")
	}

	log.Info().
		Str("election_id", election.ID).
		Str("vote_id", ballot.VoteID).
		Msg("Ballot cast")
	return ballot, nil
}

// Vote encrypts a selection on the server and casts it.
func (vs *VotingService) Vote(ctx context.Context, voterID, electionID string, candidateIndex int) (*models.Ballot, error) {
	encrypted, err := vs.EncryptBallot(ctx, electionID, candidateIndex)
	if err != nil {
		return nil, err
	}
	return vs.CastVote(ctx, CastVoteRequest{
		VoterID:       voterID,
		ElectionID:    electionID,
		EncryptedVote: encrypted,
	})
}

// HasVoted reports whether the voter has a ballot in an existing election.
func (vs *VotingService) HasVoted(ctx context.Context, voterID, electionID string) (bool, error) {
	voterID, err := vs.verificationService.verifyID("voter_id", voterID)
	if err != nil {
		return false, err
	}
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return false, err
	}
	return vs.store.HasBallot(ctx, voterID, election.ID)
}

// Receipt returns the voter's proof of submission. It carries no plaintext.
func (vs *VotingService) Receipt(ctx context.Context, voterID, electionID string) (*models.Receipt, error) {
	voterID, err := vs.verificationService.verifyID("voter_id", voterID)
	if err != nil {
		return nil, err
	}
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	ballot, err := vs.store.GetBallot(ctx, voterID, election.ID)
	if err != nil {
		return nil, notFound(err, "ballot of voter %s", voterID)
	}
	return ballot.Receipt(), nil
}

// Tally decrypts every ballot once the election has closed.
func (vs *VotingService) Tally(ctx context.Context, electionID string) (*models.TallyResult, error) {
	return vs.tally(ctx, electionID, models.TallyPerBallot)
}

// TallyAggregated sums ballots under encryption and decrypts only the totals.
func (vs *VotingService) TallyAggregated(ctx context.Context, electionID string) (*models.TallyResult, error) {
	return vs.tally(ctx, electionID, models.TallyAggregate)
}

func (vs *VotingService) tally(ctx context.Context, electionID string, method models.TallyMethod) (result *models.TallyResult, err error) {
	defer func(start time.Time) { vs.metricsCollector.Record(OpCounting, start, err) }(time.Now())

	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	now := vs.clock()
	if !ResultsAvailable(election, now) {
		return nil, &ElectionStillOpenError{
			ElectionID: election.ID,
			Phase:      Phase(election, now),
			End:        election.EndTime,
		}
	}
	return vs.countingService.CountVotes(ctx, election, method, now)
}

// LatestResults returns the most recent tally computed by this instance.
func (vs *VotingService) LatestResults(electionID string) (*models.TallyResult, bool) {
	electionID, err := vs.verificationService.verifyID("election_id", electionID)
	if err != nil {
		return nil, false
	}
	return vs.countingService.GetLatestResults(electionID)
}
