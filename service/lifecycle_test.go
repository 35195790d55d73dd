package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoting-core/models"
	"evoting-core/storage"
)

func TestCreateElection(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t, "Alice", "Bob", "Carol")

	assert.Equal(t, models.StatusCreated, e.Status)
	require.NoError(t, e.PublicKey.Validate())
	assert.Equal(t, testKeySize, e.PublicKey.N.BitLen())

	candidates, err := env.repo.ListCandidates(env.ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	for i, name := range []string{"Alice", "Bob", "Carol"} {
		assert.Equal(t, name, candidates[i].Name)
		assert.Equal(t, i, candidates[i].Ordinal)
	}

	record, err := env.repo.GetKeyRecord(env.ctx, e.ID)
	require.NoError(t, err)
	assert.NotContains(t, record.EncryptedPrivateKey, `"p"`)

	pk, err := env.vs.PublicKey(env.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, pk.Equal(e.PublicKey))

	metrics := env.vs.GetMetrics()
	assert.Equal(t, 1, metrics.ElectionCreation.Count)
	assert.Equal(t, 0, metrics.ElectionCreation.Failures)
}

func TestCreateElectionValidation(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	ok := []CandidateInput{{Name: "Alice"}}

	tests := []struct {
		name string
		req  CreateElectionRequest
	}{
		{"MissingName", CreateElectionRequest{StartTime: now, EndTime: now.Add(time.Hour), Candidates: ok}},
		{"EndBeforeStart", CreateElectionRequest{Name: "x", StartTime: now, EndTime: now.Add(-time.Hour), Candidates: ok}},
		{"EndEqualsStart", CreateElectionRequest{Name: "x", StartTime: now, EndTime: now, Candidates: ok}},
		{"MissingTimes", CreateElectionRequest{Name: "x", Candidates: ok}},
		{"NoCandidates", CreateElectionRequest{Name: "x", StartTime: now, EndTime: now.Add(time.Hour)}},
		{"BlankCandidate", CreateElectionRequest{Name: "x", StartTime: now, EndTime: now.Add(time.Hour),
			Candidates: []CandidateInput{{Name: "  "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.vs.CreateElection(env.ctx, tt.req)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

// recordingRepo remembers the last inserted election and can refuse deletes.
type recordingRepo struct {
	storage.Repository
	lastElection string
	failDelete   bool
}

func (r *recordingRepo) InsertElection(ctx context.Context, e *models.Election, cs []*models.Candidate) error {
	r.lastElection = e.ID
	return r.Repository.InsertElection(ctx, e, cs)
}

func (r *recordingRepo) DeleteElection(ctx context.Context, id string) error {
	if r.failDelete {
		return errors.New("delete refused")
	}
	return r.Repository.DeleteElection(ctx, id)
}

func TestCreateElectionRollsBackOnVaultFailure(t *testing.T) {
	vaultErr := errors.New("vault offline")

	t.Run("Deleted", func(t *testing.T) {
		repo := &recordingRepo{Repository: storage.NewMemoryStore()}
		env := newTestEnvWith(t, repo, &failingVault{err: vaultErr})

		_, err := env.vs.CreateElection(env.ctx, CreateElectionRequest{
			Name:       "Doomed",
			StartTime:  env.clock.Now(),
			EndTime:    env.clock.Now().Add(time.Hour),
			Candidates: []CandidateInput{{Name: "Alice"}, {Name: "Bob"}},
		})
		require.ErrorIs(t, err, vaultErr)
		require.NotEmpty(t, repo.lastElection)

		_, err = repo.GetElection(env.ctx, repo.lastElection)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, 1, env.vs.GetMetrics().ElectionCreation.Failures)
	})

	t.Run("MarkedUnusable", func(t *testing.T) {
		repo := &recordingRepo{Repository: storage.NewMemoryStore(), failDelete: true}
		env := newTestEnvWith(t, repo, &failingVault{err: vaultErr})

		_, err := env.vs.CreateElection(env.ctx, CreateElectionRequest{
			Name:       "Doomed",
			StartTime:  env.clock.Now(),
			EndTime:    env.clock.Now().Add(time.Hour),
			Candidates: []CandidateInput{{Name: "Alice"}, {Name: "Bob"}},
		})
		require.ErrorIs(t, err, vaultErr)

		e, err := repo.GetElection(env.ctx, repo.lastElection)
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnusable, e.Status)

		_, err = env.vs.PublicKey(env.ctx, e.ID)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))

		state, err := env.vs.ElectionStatus(env.ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, state.AcceptsVote)
		assert.Equal(t, models.StatusUnusable, state.Status)
	})
}

func TestElectionStatus(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)

	state, err := env.vs.ElectionStatus(env.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseNotStarted, state.Phase)
	assert.False(t, state.AcceptsVote)
	assert.Len(t, state.Candidates, 3)
	assert.Equal(t, testKeySize, state.KeyBits)
	assert.Equal(t, 0, state.SecurityBits)

	env.openWindow(e)
	state, err = env.vs.ElectionStatus(env.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseOpen, state.Phase)
	assert.Equal(t, models.StatusOngoing, state.Status)
	assert.True(t, state.AcceptsVote)

	env.closeWindow(e)
	state, err = env.vs.ElectionStatus(env.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseClosed, state.Phase)
	assert.True(t, state.ResultsAvailable)

	_, err = env.vs.ElectionStatus(env.ctx, "not-a-uuid")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = env.vs.ElectionStatus(env.ctx, "6f1c1b3e-8a51-4f7e-9a55-2f1e9d1c0a11")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddCandidate(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t, "Alice", "Bob")

	c, err := env.vs.AddCandidate(env.ctx, e.ID, CandidateInput{Name: "Dave", PartyName: "Independent"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Ordinal)

	ballot, err := env.vs.EncryptBallot(env.ctx, e.ID, 2)
	require.NoError(t, err)
	assert.Len(t, ballot, 3)

	env.openWindow(e)
	_, err = env.vs.AddCandidate(env.ctx, e.ID, CandidateInput{Name: "Late"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}
