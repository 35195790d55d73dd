package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/encryption"
	"evoting-core/models"
	"evoting-core/storage"
)

type CandidateInput struct {
	Name      string `json:"name"`
	PartyName string `json:"party_name"`
}

type CreateElectionRequest struct {
	Name       string           `json:"election_name"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    time.Time        `json:"end_time"`
	Candidates []CandidateInput `json:"candidates"`
}

// Conflicting ordinals are retried this many times when candidates are added
// concurrently.
const addCandidateAttempts = 3

// CreateElection generates the election keypair, stores the election with its
// candidates and seals the private key in the vault. Candidate ordinals follow
// request order. If the key cannot be stored the election is removed again, or
// marked unusable when removal also fails.
func (vs *VotingService) CreateElection(ctx context.Context, req CreateElectionRequest) (election *models.Election, err error) {
	defer func(start time.Time) { vs.metricsCollector.Record(OpElectionCreation, start, err) }(time.Now())

	if err := vs.verificationService.verifyElection(&req); err != nil {
		return nil, err
	}

	pk, sk, err := vs.scheme.GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate election keypair")
	}
	material, err := json.Marshal(sk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize private key")
	}
	defer wipe(material)

	now := vs.clock()
	election = &models.Election{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		PublicKey: pk,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		CreatedAt: now,
	}
	election.Status = election.StatusAt(now)

	candidates := make([]*models.Candidate, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = &models.Candidate{
			ID:         uuid.NewString(),
			ElectionID: election.ID,
			Name:       strings.TrimSpace(c.Name),
			PartyName:  strings.TrimSpace(c.PartyName),
			Ordinal:    i,
		}
	}

	if err := vs.store.InsertElection(ctx, election, candidates); err != nil {
		return nil, errors.Wrap(err, "failed to store election")
	}

	keyID, err := vs.vault.Store(ctx, election.ID, material)
	if err != nil {
		return nil, vs.rollbackElection(ctx, election, err)
	}

	log.Info().
		Str("election_id", election.ID).
		Str("key_id", keyID).
		Int("candidates", len(candidates)).
		Int("key_bits", vs.scheme.KeySize()).
		Int("security_bits", vs.scheme.EstimatedSecurityBits()).
		Msg("Election created")
	return election, nil
}

// rollbackElection undoes a half-created election. Cleanup runs even if the
// request context has been cancelled.
func (vs *VotingService) rollbackElection(ctx context.Context, election *models.Election, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := log.With().Str("election_id", election.ID).Logger()
	logger.Error().Err(cause).Msg("Failed to store election key, rolling back")

	derr := vs.store.DeleteElection(ctx, election.ID)
	if derr == nil {
		return errors.Wrap(cause, "failed to store election key")
	}
	logger.Error().Err(derr).Msg("Failed to delete election, marking unusable")

	if uerr := vs.store.UpdateElectionStatus(ctx, election.ID, models.StatusUnusable); uerr != nil {
		logger.Error().Err(uerr).Msg("Failed to mark election unusable")
	}
	return errors.Wrapf(cause, "failed to store election key (rollback failed: %v)", derr)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ElectionStatus derives phase and status from the stored window and the clock.
func (vs *VotingService) ElectionStatus(ctx context.Context, electionID string) (*ElectionState, error) {
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	candidates, err := vs.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list candidates of election %s", election.ID)
	}
	return stateOf(election, candidates, vs.clock()), nil
}

// PublicKey returns the key voters encrypt their ballots under.
func (vs *VotingService) PublicKey(ctx context.Context, electionID string) (*encryption.PublicKey, error) {
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	if election.Status == models.StatusUnusable {
		return nil, invalid("election_id", "election %s is unusable", election.ID)
	}
	return election.PublicKey, nil
}

// AddCandidate appends a candidate with the next ordinal. It is only allowed
// before voting opens, so no ballot can have been cast with the old length.
func (vs *VotingService) AddCandidate(ctx context.Context, electionID string, in CandidateInput) (*models.Candidate, error) {
	name, err := vs.verificationService.verifyName("name", in.Name)
	if err != nil {
		return nil, err
	}
	election, err := vs.loadElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	now := vs.clock()
	if phase := Phase(election, now); phase != models.PhaseNotStarted {
		return nil, invalid("election_id", "candidates cannot be added once the election is %s", phase)
	}

	for attempt := 0; ; attempt++ {
		existing, err := vs.store.ListCandidates(ctx, election.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list candidates of election %s", election.ID)
		}
		candidate := &models.Candidate{
			ID:         uuid.NewString(),
			ElectionID: election.ID,
			Name:       name,
			PartyName:  strings.TrimSpace(in.PartyName),
			Ordinal:    len(existing),
		}
		err = vs.store.InsertCandidate(ctx, candidate)
		if err == nil {
			log.Info().
				Str("election_id", election.ID).
				Int("ordinal", candidate.Ordinal).
				Msg("Candidate added")
			return candidate, nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt+1 >= addCandidateAttempts {
			return nil, notFound(err, "failed to add candidate")
		}
	}
}
