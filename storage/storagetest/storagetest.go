// Package storagetest holds behaviour shared by every storage.Repository.
package storagetest

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoting-core/encryption"
	"evoting-core/models"
	"evoting-core/storage"
)

// Run exercises repo against the Repository contract. newRepo must return an
// empty repository for each call.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo storage.Repository)
	}{
		{"ElectionRoundTrip", testElectionRoundTrip},
		{"DuplicateOrdinal", testDuplicateOrdinal},
		{"KeyRecordUnique", testKeyRecordUnique},
		{"VoterUpsert", testVoterUpsert},
		{"BallotUnique", testBallotUnique},
		{"ConcurrentBallots", testConcurrentBallots},
		{"DeleteCascades", testDeleteCascades},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			t.Cleanup(func() { repo.Close() })
			tt.fn(t, repo)
		})
	}
}

var testKey = encryption.NewPublicKey(big.NewInt(3233))

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewElection builds an election with count candidates.
func NewElection(count int) (*models.Election, []*models.Candidate) {
	start := now()
	e := &models.Election{
		ID:        uuid.NewString(),
		Name:      "Board election",
		PublicKey: testKey,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Status:    models.StatusCreated,
		CreatedAt: start,
	}
	candidates := make([]*models.Candidate, count)
	for i := range candidates {
		candidates[i] = &models.Candidate{
			ID:         uuid.NewString(),
			ElectionID: e.ID,
			Name:       string(rune('A' + i)),
			Ordinal:    i,
		}
	}
	return e, candidates
}

func newVoter(electionID, email string) *models.Voter {
	return &models.Voter{
		VoterID:    uuid.NewString(),
		ElectionID: electionID,
		Name:       "Voter",
		Email:      email,
		Gender:     "female",
		PublicKey:  testKey,
		CreatedAt:  now(),
	}
}

func newBallot(voterID, electionID string) *models.Ballot {
	return &models.Ballot{
		VoteID:        uuid.NewString(),
		VoterID:       voterID,
		ElectionID:    electionID,
		EncryptedVote: []string{"17", "42", "99"},
		RandomValue:   "abcd",
		ReceiptHash:   "0x01",
		CreatedAt:     now(),
	}
}

func seed(t *testing.T, repo storage.Repository) *models.Election {
	e, cs := NewElection(3)
	require.NoError(t, repo.InsertElection(context.Background(), e, cs))
	return e
}

func testElectionRoundTrip(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e, cs := NewElection(3)
	// Insert out of order; listing must come back by ordinal.
	require.NoError(t, repo.InsertElection(ctx, e, []*models.Candidate{cs[2], cs[0], cs[1]}))

	got, err := repo.GetElection(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Name, got.Name)
	assert.True(t, e.StartTime.Equal(got.StartTime))
	assert.True(t, e.EndTime.Equal(got.EndTime))
	assert.True(t, testKey.Equal(got.PublicKey))

	list, err := repo.ListCandidates(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, c := range list {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, cs[i].ID, c.ID)
	}

	require.NoError(t, repo.UpdateElectionStatus(ctx, e.ID, models.StatusUnusable))
	got, err = repo.GetElection(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnusable, got.Status)

	err = repo.InsertElection(ctx, e, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func testDuplicateOrdinal(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)

	err := repo.InsertCandidate(ctx, &models.Candidate{
		ID: uuid.NewString(), ElectionID: e.ID, Name: "Late", Ordinal: 1,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, repo.InsertCandidate(ctx, &models.Candidate{
		ID: uuid.NewString(), ElectionID: e.ID, Name: "Late", Ordinal: 3,
	}))
	list, err := repo.ListCandidates(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func testKeyRecordUnique(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)

	rec := &models.KeyRecord{
		KeyID:               uuid.NewString(),
		ElectionID:          e.ID,
		EncryptedPrivateKey: "c2VhbGVk",
		CreatedAt:           now(),
	}
	require.NoError(t, repo.InsertKeyRecord(ctx, rec))

	got, err := repo.GetKeyRecord(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, got.KeyID)
	assert.Equal(t, rec.EncryptedPrivateKey, got.EncryptedPrivateKey)

	dup := *rec
	dup.KeyID = uuid.NewString()
	assert.ErrorIs(t, repo.InsertKeyRecord(ctx, &dup), storage.ErrConflict)
}

func testVoterUpsert(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)

	first, err := repo.UpsertVoter(ctx, newVoter(e.ID, "ada@example.org"))
	require.NoError(t, err)

	again := newVoter(e.ID, "ada@example.org")
	again.PublicKey = encryption.NewPublicKey(big.NewInt(3599))
	second, err := repo.UpsertVoter(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, first.VoterID, second.VoterID)
	assert.True(t, again.PublicKey.Equal(second.PublicKey))

	_, err = repo.UpsertVoter(ctx, newVoter(e.ID, "bob@example.org"))
	require.NoError(t, err)

	voters, err := repo.ListVoters(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, voters, 2)

	got, err := repo.GetVoter(ctx, first.VoterID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ElectionID)
}

func testBallotUnique(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)
	v, err := repo.UpsertVoter(ctx, newVoter(e.ID, "ada@example.org"))
	require.NoError(t, err)

	has, err := repo.HasBallot(ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.False(t, has)

	b := newBallot(v.VoterID, e.ID)
	require.NoError(t, repo.InsertBallot(ctx, b))
	assert.ErrorIs(t, repo.InsertBallot(ctx, newBallot(v.VoterID, e.ID)), storage.ErrConflict)

	has, err = repo.HasBallot(ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := repo.GetBallot(ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, b.VoteID, got.VoteID)
	assert.Equal(t, b.EncryptedVote, got.EncryptedVote)

	list, err := repo.ListBallots(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testConcurrentBallots(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)
	v, err := repo.UpsertVoter(ctx, newVoter(e.ID, "ada@example.org"))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.InsertBallot(ctx, newBallot(v.VoterID, e.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	list, err := repo.ListBallots(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testDeleteCascades(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	e := seed(t, repo)
	v, err := repo.UpsertVoter(ctx, newVoter(e.ID, "ada@example.org"))
	require.NoError(t, err)
	require.NoError(t, repo.InsertBallot(ctx, newBallot(v.VoterID, e.ID)))

	require.NoError(t, repo.DeleteElection(ctx, e.ID))

	_, err = repo.GetElection(ctx, e.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetVoter(ctx, v.VoterID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	list, err := repo.ListBallots(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, repo.DeleteElection(ctx, e.ID), storage.ErrNotFound)
}

func testNotFound(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := repo.GetElection(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetKeyRecord(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetVoter(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetBallot(ctx, missing, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateElectionStatus(ctx, missing, models.StatusClosed), storage.ErrNotFound)
	assert.ErrorIs(t, repo.InsertBallot(ctx, newBallot(missing, missing)), storage.ErrNotFound)
}
