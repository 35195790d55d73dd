package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoting-core/encryption"
	"evoting-core/models"
)

func TestRegisterVoter(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)

	v := env.register(t, e, "Ada@Example.org", "F")
	assert.Equal(t, e.ID, v.ElectionID)
	assert.Equal(t, "ada@example.org", v.Email)
	assert.Equal(t, "female", v.Gender)
	assert.True(t, v.PublicKey.Equal(e.PublicKey))

	again := env.register(t, e, "ada@example.org", "female")
	assert.Equal(t, v.VoterID, again.VoterID)

	other := env.createElection(t)
	elsewhere := env.register(t, other, "ada@example.org", "female")
	assert.NotEqual(t, v.VoterID, elsewhere.VoterID)

	_, err := env.vs.RegisterVoter(env.ctx, RegisterVoterRequest{ElectionID: e.ID, Name: "Bad", Email: "nope"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = env.vs.RegisterVoter(env.ctx, RegisterVoterRequest{ElectionID: uuid.NewString(), Name: "Ghost", Email: "g@example.org"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCastVoteWindow(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	ballot, err := env.vs.EncryptBallot(env.ctx, e.ID, 0)
	require.NoError(t, err)

	tests := []struct {
		name  string
		now   time.Time
		phase models.Phase
		ok    bool
	}{
		{"BeforeStart", e.StartTime.Add(-time.Second), models.PhaseNotStarted, false},
		{"AtStart", e.StartTime, models.PhaseOpen, true},
		{"AtEnd", e.EndTime, models.PhaseOpen, true},
		{"AfterEnd", e.EndTime.Add(time.Second), models.PhaseClosed, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := env.register(t, e, string(rune('a'+i))+"@example.org", "")
			env.clock.Set(tt.now)

			b, err := env.vs.CastVote(env.ctx, CastVoteRequest{
				VoterID:       v.VoterID,
				ElectionID:    e.ID,
				EncryptedVote: ballot,
			})
			if tt.ok {
				require.NoError(t, err)
				assert.NotEmpty(t, b.VoteID)
				return
			}
			var notOpen *ElectionNotOpenError
			require.True(t, errors.As(err, &notOpen), "got %v", err)
			assert.Equal(t, tt.phase, notOpen.Phase)
			assert.True(t, notOpen.Start.Equal(e.StartTime))
			assert.True(t, notOpen.End.Equal(e.EndTime))
		})
	}
}

func TestCastVoteRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	voted, err := env.vs.HasVoted(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.False(t, voted)

	first, err := env.vs.Vote(env.ctx, v.VoterID, e.ID, 2)
	require.NoError(t, err)

	_, err = env.vs.Vote(env.ctx, v.VoterID, e.ID, 0)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	voted, err = env.vs.HasVoted(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.True(t, voted)

	stored, err := env.repo.GetBallot(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, first.VoteID, stored.VoteID)
}

func TestCastVoteConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	ballot, err := env.vs.EncryptBallot(env.ctx, e.ID, 1)
	require.NoError(t, err)

	const attempts = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.vs.CastVote(env.ctx, CastVoteRequest{
				VoterID:       v.VoterID,
				ElectionID:    e.ID,
				EncryptedVote: ballot,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, ErrDuplicateVote) {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)

	ballots, err := env.repo.ListBallots(env.ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func TestCastVoteValidation(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	other := env.createElection(t)
	stranger := env.register(t, other, "bob@example.org", "male")
	env.openWindow(e)

	good, err := env.vs.EncryptBallot(env.ctx, e.ID, 0)
	require.NoError(t, err)
	foreign, err := env.vs.EncryptBallot(env.ctx, other.ID, 0)
	require.NoError(t, err)

	validation := func(t *testing.T, err error) {
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "got %v", err)
	}
	missing := func(t *testing.T, err error) {
		assert.ErrorIs(t, err, ErrNotFound)
	}

	tests := []struct {
		name  string
		req   CastVoteRequest
		check func(t *testing.T, err error)
	}{
		{"VoterNotUUID", CastVoteRequest{VoterID: "42", ElectionID: e.ID, EncryptedVote: good}, validation},
		{"ElectionNotUUID", CastVoteRequest{VoterID: v.VoterID, ElectionID: "x", EncryptedVote: good}, validation},
		{"EmptyBallot", CastVoteRequest{VoterID: v.VoterID, ElectionID: e.ID}, validation},
		{"ShortBallot", CastVoteRequest{VoterID: v.VoterID, ElectionID: e.ID, EncryptedVote: good[:2]}, validation},
		{"NotANumber", CastVoteRequest{VoterID: v.VoterID, ElectionID: e.ID, EncryptedVote: []string{"1", "x", "1"}}, validation},
		{"OutOfRange", CastVoteRequest{VoterID: v.VoterID, ElectionID: e.ID, EncryptedVote: []string{"0", "1", "1"}}, validation},
		{"UnknownElection", CastVoteRequest{VoterID: v.VoterID, ElectionID: uuid.NewString(), EncryptedVote: good}, missing},
		{"UnknownVoter", CastVoteRequest{VoterID: uuid.NewString(), ElectionID: e.ID, EncryptedVote: good}, missing},
		{"VoterOfOtherElection", CastVoteRequest{VoterID: stranger.VoterID, ElectionID: e.ID, EncryptedVote: foreign}, missing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.vs.CastVote(env.ctx, tt.req)
			tt.check(t, err)
		})
	}

	voted, err := env.vs.HasVoted(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestReceipt(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	ballot, err := env.vs.EncryptBallot(env.ctx, e.ID, 1)
	require.NoError(t, err)
	cast, err := env.vs.CastVote(env.ctx, CastVoteRequest{
		VoterID:       v.VoterID,
		ElectionID:    e.ID,
		EncryptedVote: ballot,
		RandomValue:   "client-nonce",
	})
	require.NoError(t, err)

	receipt, err := env.vs.Receipt(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, cast.VoteID, receipt.VoteID)
	assert.Equal(t, "client-nonce", receipt.RandomValue)

	cts, err := encryption.ParseCiphertexts(ballot)
	require.NoError(t, err)
	expected := encryption.NewCryptoService().ReceiptHash(e.ID, v.VoterID, cts, "client-nonce")
	assert.Equal(t, expected, receipt.ReceiptHash)

	_, err = env.vs.Receipt(env.ctx, uuid.NewString(), e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerGeneratedRandomValue(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	b, err := env.vs.Vote(env.ctx, v.VoterID, e.ID, 0)
	require.NoError(t, err)
	assert.Len(t, b.RandomValue, 2*encryption.NonceSize)
	assert.NotEmpty(t, b.ReceiptHash)
}

func TestEncryptBallotRejectsBadIndex(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)

	for _, idx := range []int{-1, 3} {
		_, err := env.vs.EncryptBallot(env.ctx, e.ID, idx)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "index %d", idx)
	}
}

func TestHasVoted(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	voted, err := env.vs.HasVoted(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.False(t, voted)

	_, err = env.vs.Vote(env.ctx, v.VoterID, e.ID, 0)
	require.NoError(t, err)

	voted, err = env.vs.HasVoted(env.ctx, v.VoterID, e.ID)
	require.NoError(t, err)
	assert.True(t, voted)

	_, err = env.vs.HasVoted(env.ctx, v.VoterID, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.vs.HasVoted(env.ctx, "nope", e.ID)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestIDSpellingsAreCanonicalized(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElection(t)
	v := env.register(t, e, "ada@example.org", "female")
	env.openWindow(e)

	ballot, err := env.vs.EncryptBallot(env.ctx, strings.ToUpper(e.ID), 2)
	require.NoError(t, err)
	cast, err := env.vs.CastVote(env.ctx, CastVoteRequest{
		VoterID:       "{" + v.VoterID + "}",
		ElectionID:    strings.ToUpper(e.ID),
		EncryptedVote: ballot,
	})
	require.NoError(t, err)
	assert.Equal(t, v.VoterID, cast.VoterID)
	assert.Equal(t, e.ID, cast.ElectionID)

	// The same voter under another spelling is still a duplicate.
	_, err = env.vs.CastVote(env.ctx, CastVoteRequest{
		VoterID:       strings.ReplaceAll(v.VoterID, "-", ""),
		ElectionID:    e.ID,
		EncryptedVote: ballot,
	})
	assert.ErrorIs(t, err, ErrDuplicateVote)

	voted, err := env.vs.HasVoted(env.ctx, "urn:uuid:"+v.VoterID, "urn:uuid:"+e.ID)
	require.NoError(t, err)
	assert.True(t, voted)

	receipt, err := env.vs.Receipt(env.ctx, strings.ToUpper(v.VoterID), strings.ToUpper(e.ID))
	require.NoError(t, err)
	assert.Equal(t, cast.VoteID, receipt.VoteID)

	env.closeWindow(e)
	_, err = env.vs.Tally(env.ctx, e.ID)
	require.NoError(t, err)
	_, ok := env.vs.LatestResults(strings.ToUpper(e.ID))
	assert.True(t, ok)
}
