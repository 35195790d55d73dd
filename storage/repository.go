package storage

import (
	"context"

	"github.com/pkg/errors"

	"evoting-core/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// Repository is the persistence boundary of the voting core. Implementations must
// enforce uniqueness themselves (one key record per election, one ballot per voter
// and election, one email per election, one candidate per ordinal) rather than rely
// on callers checking first.
type Repository interface {
	// InsertElection stores an election and its candidates atomically.
	InsertElection(ctx context.Context, election *models.Election, candidates []*models.Candidate) error
	GetElection(ctx context.Context, id string) (*models.Election, error)
	// DeleteElection removes the election and everything that references it.
	DeleteElection(ctx context.Context, id string) error
	UpdateElectionStatus(ctx context.Context, id string, status models.ElectionStatus) error

	InsertCandidate(ctx context.Context, candidate *models.Candidate) error
	// ListCandidates returns candidates in ordinal order.
	ListCandidates(ctx context.Context, electionID string) ([]*models.Candidate, error)

	InsertKeyRecord(ctx context.Context, record *models.KeyRecord) error
	GetKeyRecord(ctx context.Context, electionID string) (*models.KeyRecord, error)

	// UpsertVoter inserts a voter, or when the email is already registered for the
	// election only refreshes the stored public key. It returns the stored row.
	UpsertVoter(ctx context.Context, voter *models.Voter) (*models.Voter, error)
	GetVoter(ctx context.Context, voterID string) (*models.Voter, error)
	ListVoters(ctx context.Context, electionID string) ([]*models.Voter, error)

	// InsertBallot fails with ErrConflict when the voter already has a ballot for
	// the election.
	InsertBallot(ctx context.Context, ballot *models.Ballot) error
	GetBallot(ctx context.Context, voterID, electionID string) (*models.Ballot, error)
	ListBallots(ctx context.Context, electionID string) ([]*models.Ballot, error)
	HasBallot(ctx context.Context, voterID, electionID string) (bool, error)

	Close() error
}
