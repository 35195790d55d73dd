package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"evoting-core/models"
)

// state is the whole data set. JSONStore writes it to disk as is.
type state struct {
	Elections  map[string]*models.Election    `json:"elections"`
	Candidates map[string][]*models.Candidate `json:"candidates"`
	Keys       map[string]*models.KeyRecord   `json:"keys"`
	Voters     map[string]*models.Voter       `json:"voters"`
	// Emails maps election/email to a voter id.
	Emails map[string]string `json:"emails"`
	// Ballots is keyed by election/voter.
	Ballots map[string]*models.Ballot `json:"ballots"`
}

func newState() *state {
	return &state{
		Elections:  make(map[string]*models.Election),
		Candidates: make(map[string][]*models.Candidate),
		Keys:       make(map[string]*models.KeyRecord),
		Voters:     make(map[string]*models.Voter),
		Emails:     make(map[string]string),
		Ballots:    make(map[string]*models.Ballot),
	}
}

// fill replaces nil maps left by decoding an older or partial snapshot.
func (st *state) fill() {
	empty := newState()
	if st.Elections == nil {
		st.Elections = empty.Elections
	}
	if st.Candidates == nil {
		st.Candidates = empty.Candidates
	}
	if st.Keys == nil {
		st.Keys = empty.Keys
	}
	if st.Voters == nil {
		st.Voters = empty.Voters
	}
	if st.Emails == nil {
		st.Emails = empty.Emails
	}
	if st.Ballots == nil {
		st.Ballots = empty.Ballots
	}
}

func pairKey(electionID, other string) string {
	return electionID + "/" + other
}

// MemoryStore keeps everything in maps guarded by one lock. Uniqueness checks and
// the insert happen under the same write lock.
type MemoryStore struct {
	mu sync.RWMutex
	st *state
	// persist runs under the write lock after every successful mutation.
	persist func(st *state) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newState()}
}

func (s *MemoryStore) update(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.st); err != nil {
		return err
	}
	if s.persist != nil {
		return s.persist(s.st)
	}
	return nil
}

func (s *MemoryStore) view(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *MemoryStore) InsertElection(ctx context.Context, election *models.Election, candidates []*models.Candidate) error {
	return s.update(func(st *state) error {
		if _, exists := st.Elections[election.ID]; exists {
			return errors.Wrapf(ErrConflict, "election %s", election.ID)
		}
		seen := make(map[int]bool, len(candidates))
		for _, c := range candidates {
			if seen[c.Ordinal] {
				return errors.Wrapf(ErrConflict, "candidate ordinal %d", c.Ordinal)
			}
			seen[c.Ordinal] = true
		}

		e := *election
		st.Elections[e.ID] = &e
		list := make([]*models.Candidate, 0, len(candidates))
		for _, c := range candidates {
			cc := *c
			list = append(list, &cc)
		}
		sortCandidates(list)
		st.Candidates[e.ID] = list
		return nil
	})
}

func (s *MemoryStore) GetElection(ctx context.Context, id string) (*models.Election, error) {
	var out *models.Election
	err := s.view(func(st *state) error {
		e, ok := st.Elections[id]
		if !ok {
			return errors.Wrapf(ErrNotFound, "election %s", id)
		}
		cp := *e
		out = &cp
		return nil
	})
	return out, err
}

func (s *MemoryStore) DeleteElection(ctx context.Context, id string) error {
	return s.update(func(st *state) error {
		if _, ok := st.Elections[id]; !ok {
			return errors.Wrapf(ErrNotFound, "election %s", id)
		}
		delete(st.Elections, id)
		delete(st.Candidates, id)
		delete(st.Keys, id)
		for voterID, v := range st.Voters {
			if v.ElectionID == id {
				delete(st.Voters, voterID)
				delete(st.Emails, pairKey(id, v.Email))
			}
		}
		for key, b := range st.Ballots {
			if b.ElectionID == id {
				delete(st.Ballots, key)
			}
		}
		return nil
	})
}

func (s *MemoryStore) UpdateElectionStatus(ctx context.Context, id string, status models.ElectionStatus) error {
	return s.update(func(st *state) error {
		e, ok := st.Elections[id]
		if !ok {
			return errors.Wrapf(ErrNotFound, "election %s", id)
		}
		e.Status = status
		return nil
	})
}

func (s *MemoryStore) InsertCandidate(ctx context.Context, candidate *models.Candidate) error {
	return s.update(func(st *state) error {
		if _, ok := st.Elections[candidate.ElectionID]; !ok {
			return errors.Wrapf(ErrNotFound, "election %s", candidate.ElectionID)
		}
		for _, c := range st.Candidates[candidate.ElectionID] {
			if c.Ordinal == candidate.Ordinal {
				return errors.Wrapf(ErrConflict, "candidate ordinal %d", candidate.Ordinal)
			}
		}
		c := *candidate
		list := append(st.Candidates[c.ElectionID], &c)
		sortCandidates(list)
		st.Candidates[c.ElectionID] = list
		return nil
	})
}

func (s *MemoryStore) ListCandidates(ctx context.Context, electionID string) ([]*models.Candidate, error) {
	var out []*models.Candidate
	err := s.view(func(st *state) error {
		for _, c := range st.Candidates[electionID] {
			cp := *c
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) InsertKeyRecord(ctx context.Context, record *models.KeyRecord) error {
	return s.update(func(st *state) error {
		if _, ok := st.Elections[record.ElectionID]; !ok {
			return errors.Wrapf(ErrNotFound, "election %s", record.ElectionID)
		}
		if _, exists := st.Keys[record.ElectionID]; exists {
			return errors.Wrapf(ErrConflict, "key record for election %s", record.ElectionID)
		}
		r := *record
		st.Keys[r.ElectionID] = &r
		return nil
	})
}

func (s *MemoryStore) GetKeyRecord(ctx context.Context, electionID string) (*models.KeyRecord, error) {
	var out *models.KeyRecord
	err := s.view(func(st *state) error {
		r, ok := st.Keys[electionID]
		if !ok {
			return errors.Wrapf(ErrNotFound, "key record for election %s", electionID)
		}
		cp := *r
		out = &cp
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpsertVoter(ctx context.Context, voter *models.Voter) (*models.Voter, error) {
	var out *models.Voter
	err := s.update(func(st *state) error {
		if _, ok := st.Elections[voter.ElectionID]; !ok {
			return errors.Wrapf(ErrNotFound, "election %s", voter.ElectionID)
		}
		emailKey := pairKey(voter.ElectionID, voter.Email)
		if id, exists := st.Emails[emailKey]; exists {
			existing := st.Voters[id]
			existing.PublicKey = voter.PublicKey
			cp := *existing
			out = &cp
			return nil
		}
		if _, exists := st.Voters[voter.VoterID]; exists {
			return errors.Wrapf(ErrConflict, "voter %s", voter.VoterID)
		}
		v := *voter
		st.Voters[v.VoterID] = &v
		st.Emails[emailKey] = v.VoterID
		cp := v
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) GetVoter(ctx context.Context, voterID string) (*models.Voter, error) {
	var out *models.Voter
	err := s.view(func(st *state) error {
		v, ok := st.Voters[voterID]
		if !ok {
			return errors.Wrapf(ErrNotFound, "voter %s", voterID)
		}
		cp := *v
		out = &cp
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListVoters(ctx context.Context, electionID string) ([]*models.Voter, error) {
	var out []*models.Voter
	err := s.view(func(st *state) error {
		for _, v := range st.Voters {
			if v.ElectionID == electionID {
				cp := *v
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VoterID < out[j].VoterID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *MemoryStore) InsertBallot(ctx context.Context, ballot *models.Ballot) error {
	return s.update(func(st *state) error {
		if _, ok := st.Elections[ballot.ElectionID]; !ok {
			return errors.Wrapf(ErrNotFound, "election %s", ballot.ElectionID)
		}
		if _, ok := st.Voters[ballot.VoterID]; !ok {
			return errors.Wrapf(ErrNotFound, "voter %s", ballot.VoterID)
		}
		key := pairKey(ballot.ElectionID, ballot.VoterID)
		if _, exists := st.Ballots[key]; exists {
			return errors.Wrapf(ErrConflict, "ballot for voter %s", ballot.VoterID)
		}
		b := *ballot
		b.EncryptedVote = append([]string(nil), ballot.EncryptedVote...)
		st.Ballots[key] = &b
		return nil
	})
}

func (s *MemoryStore) GetBallot(ctx context.Context, voterID, electionID string) (*models.Ballot, error) {
	var out *models.Ballot
	err := s.view(func(st *state) error {
		b, ok := st.Ballots[pairKey(electionID, voterID)]
		if !ok {
			return errors.Wrapf(ErrNotFound, "ballot for voter %s", voterID)
		}
		out = copyBallot(b)
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListBallots(ctx context.Context, electionID string) ([]*models.Ballot, error) {
	var out []*models.Ballot
	err := s.view(func(st *state) error {
		for _, b := range st.Ballots {
			if b.ElectionID == electionID {
				out = append(out, copyBallot(b))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VoteID < out[j].VoteID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *MemoryStore) HasBallot(ctx context.Context, voterID, electionID string) (bool, error) {
	var found bool
	err := s.view(func(st *state) error {
		_, found = st.Ballots[pairKey(electionID, voterID)]
		return nil
	})
	return found, err
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyBallot(b *models.Ballot) *models.Ballot {
	cp := *b
	cp.EncryptedVote = append([]string(nil), b.EncryptedVote...)
	return &cp
}

func sortCandidates(list []*models.Candidate) {
	sort.Slice(list, func(i, j int) bool { return list[i].Ordinal < list[j].Ordinal })
}
