package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evoting-core/keyvault"
	"evoting-core/models"
	"evoting-core/storage"
)

const testKeySize = 256

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	vs    *VotingService
	repo  storage.Repository
	clock *fakeClock
	ctx   context.Context
}

func testMaster() []byte {
	return bytes.Repeat([]byte{0x42}, keyvault.MasterKeySize)
}

func newTestEnvWith(t *testing.T, repo storage.Repository, vault KeyVault) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	if vault == nil {
		v, err := keyvault.New(repo, testMaster(), keyvault.MinIterations)
		require.NoError(t, err)
		vault = v
	}
	vs, err := NewVotingService(repo, vault, Config{
		KeySize:      testKeySize,
		TallyWorkers: 2,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	return &testEnv{vs: vs, repo: repo, clock: clock, ctx: context.Background()}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, storage.NewMemoryStore(), nil)
}

// createElection opens one hour after the clock and runs for one hour.
func (env *testEnv) createElection(t *testing.T, candidates ...string) *models.Election {
	t.Helper()
	if len(candidates) == 0 {
		candidates = []string{"Alice", "Bob", "Carol"}
	}
	req := CreateElectionRequest{
		Name:      "City council",
		StartTime: env.clock.Now().Add(time.Hour),
		EndTime:   env.clock.Now().Add(2 * time.Hour),
	}
	for _, name := range candidates {
		req.Candidates = append(req.Candidates, CandidateInput{Name: name, PartyName: name + " party"})
	}
	e, err := env.vs.CreateElection(env.ctx, req)
	require.NoError(t, err)
	return e
}

func (env *testEnv) register(t *testing.T, e *models.Election, email, gender string) *models.Voter {
	t.Helper()
	v, err := env.vs.RegisterVoter(env.ctx, RegisterVoterRequest{
		ElectionID: e.ID,
		Name:       "Voter " + email,
		Email:      email,
		Gender:     gender,
	})
	require.NoError(t, err)
	return v
}

func (env *testEnv) openWindow(e *models.Election) {
	env.clock.Set(e.StartTime.Add(time.Minute))
}

func (env *testEnv) closeWindow(e *models.Election) {
	env.clock.Set(e.EndTime.Add(time.Second))
}

// failingVault refuses every operation with err.
type failingVault struct {
	err error
}

func (f *failingVault) Store(ctx context.Context, electionID string, material []byte) (string, error) {
	return "", f.err
}

func (f *failingVault) Retrieve(ctx context.Context, electionID string) ([]byte, error) {
	return nil, f.err
}
