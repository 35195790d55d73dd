// Package postgres implements storage.Repository on PostgreSQL. Uniqueness is
// enforced by table constraints, so concurrent writers cannot both succeed.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/encryption"
	"evoting-core/models"
	"evoting-core/storage"
)

// SQLSTATE codes mapped onto storage errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "database connection error")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database connection error")
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaQuery); err != nil {
		return errors.Wrap(err, "error loading database schema")
	}
	log.Debug().Msg("Database schema ready")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// mapError translates constraint violations and empty results.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(storage.ErrNotFound, what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return errors.Wrapf(storage.ErrConflict, "%s: %s", what, pqErr.Constraint)
		case codeForeignKeyViolation:
			return errors.Wrapf(storage.ErrNotFound, "%s: %s", what, pqErr.Constraint)
		}
	}
	return errors.Wrap(err, what)
}

func encodeKey(pk *encryption.PublicKey) (string, error) {
	data, err := json.Marshal(pk)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode public key")
	}
	return string(data), nil
}

func decodeKey(raw string) (*encryption.PublicKey, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	return encryption.ParsePublicKey([]byte(raw))
}

func (s *Store) InsertElection(ctx context.Context, election *models.Election, candidates []*models.Candidate) error {
	pk, err := encodeKey(election.PublicKey)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO elections (election_id, election_name, public_key, start_time, end_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		election.ID, election.Name, pk, election.StartTime, election.EndTime, string(election.Status), election.CreatedAt)
	if err != nil {
		return mapError(err, "insert election")
	}
	for _, c := range candidates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates (candidate_id, election_id, name, party_name, ordinal)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.ElectionID, c.Name, c.PartyName, c.Ordinal)
		if err != nil {
			return mapError(err, "insert candidate")
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit election")
}

func (s *Store) GetElection(ctx context.Context, id string) (*models.Election, error) {
	var (
		e      models.Election
		pk     string
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT election_id, election_name, public_key, start_time, end_time, status, created_at
		FROM elections WHERE election_id = $1`, id).
		Scan(&e.ID, &e.Name, &pk, &e.StartTime, &e.EndTime, &status, &e.CreatedAt)
	if err != nil {
		return nil, mapError(err, "election "+id)
	}
	e.Status = models.ElectionStatus(status)
	if e.PublicKey, err = decodeKey(pk); err != nil {
		return nil, errors.Wrapf(err, "election %s", id)
	}
	return &e, nil
}

func (s *Store) DeleteElection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM elections WHERE election_id = $1`, id)
	if err != nil {
		return mapError(err, "delete election")
	}
	return expectRow(res, "election "+id)
}

func (s *Store) UpdateElectionStatus(ctx context.Context, id string, status models.ElectionStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE elections SET status = $2 WHERE election_id = $1`, id, string(status))
	if err != nil {
		return mapError(err, "update election status")
	}
	return expectRow(res, "election "+id)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, what)
	}
	if n == 0 {
		return errors.Wrap(storage.ErrNotFound, what)
	}
	return nil
}

func (s *Store) InsertCandidate(ctx context.Context, c *models.Candidate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (candidate_id, election_id, name, party_name, ordinal)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.ElectionID, c.Name, c.PartyName, c.Ordinal)
	return mapError(err, "insert candidate")
}

func (s *Store) ListCandidates(ctx context.Context, electionID string) ([]*models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, election_id, name, party_name, ordinal
		FROM candidates WHERE election_id = $1 ORDER BY ordinal`, electionID)
	if err != nil {
		return nil, mapError(err, "list candidates")
	}
	defer rows.Close()

	var out []*models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ID, &c.ElectionID, &c.Name, &c.PartyName, &c.Ordinal); err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		out = append(out, &c)
	}
	return out, errors.Wrap(rows.Err(), "list candidates")
}

func (s *Store) InsertKeyRecord(ctx context.Context, r *models.KeyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO election_keys (key_id, election_id, encrypted_private_key, created_at)
		VALUES ($1, $2, $3, $4)`,
		r.KeyID, r.ElectionID, r.EncryptedPrivateKey, r.CreatedAt)
	return mapError(err, "insert key record")
}

func (s *Store) GetKeyRecord(ctx context.Context, electionID string) (*models.KeyRecord, error) {
	var r models.KeyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT key_id, election_id, encrypted_private_key, created_at
		FROM election_keys WHERE election_id = $1`, electionID).
		Scan(&r.KeyID, &r.ElectionID, &r.EncryptedPrivateKey, &r.CreatedAt)
	if err != nil {
		return nil, mapError(err, "key record for election "+electionID)
	}
	return &r, nil
}

const voterColumns = `voter_id, election_id, name, email, gender, public_key, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVoter(row scanner) (*models.Voter, error) {
	var (
		v  models.Voter
		pk string
	)
	if err := row.Scan(&v.VoterID, &v.ElectionID, &v.Name, &v.Email, &v.Gender, &pk, &v.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if v.PublicKey, err = decodeKey(pk); err != nil {
		return nil, errors.Wrapf(err, "voter %s", v.VoterID)
	}
	return &v, nil
}

func (s *Store) UpsertVoter(ctx context.Context, voter *models.Voter) (*models.Voter, error) {
	pk, err := encodeKey(voter.PublicKey)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO voters (`+voterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (election_id, email) DO UPDATE SET public_key = EXCLUDED.public_key
		RETURNING `+voterColumns,
		voter.VoterID, voter.ElectionID, voter.Name, voter.Email, voter.Gender, pk, voter.CreatedAt)
	v, err := scanVoter(row)
	if err != nil {
		return nil, mapError(err, "upsert voter")
	}
	return v, nil
}

func (s *Store) GetVoter(ctx context.Context, voterID string) (*models.Voter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+voterColumns+` FROM voters WHERE voter_id = $1`, voterID)
	v, err := scanVoter(row)
	if err != nil {
		return nil, mapError(err, "voter "+voterID)
	}
	return v, nil
}

func (s *Store) ListVoters(ctx context.Context, electionID string) ([]*models.Voter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+voterColumns+` FROM voters WHERE election_id = $1 ORDER BY created_at, voter_id`, electionID)
	if err != nil {
		return nil, mapError(err, "list voters")
	}
	defer rows.Close()

	var out []*models.Voter
	for rows.Next() {
		v, err := scanVoter(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan voter")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "list voters")
}

const ballotColumns = `vote_id, voter_id, election_id, encrypted_vote, random_value, receipt_hash, created_at`

func scanBallot(row scanner) (*models.Ballot, error) {
	var b models.Ballot
	err := row.Scan(&b.VoteID, &b.VoterID, &b.ElectionID, pq.Array(&b.EncryptedVote),
		&b.RandomValue, &b.ReceiptHash, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBallot relies on UNIQUE (voter_id, election_id); a concurrent duplicate
// surfaces as ErrConflict.
func (s *Store) InsertBallot(ctx context.Context, b *models.Ballot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ballots (`+ballotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.VoteID, b.VoterID, b.ElectionID, pq.Array(b.EncryptedVote), b.RandomValue, b.ReceiptHash, b.CreatedAt)
	return mapError(err, "insert ballot")
}

func (s *Store) GetBallot(ctx context.Context, voterID, electionID string) (*models.Ballot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ballotColumns+` FROM ballots WHERE voter_id = $1 AND election_id = $2`, voterID, electionID)
	b, err := scanBallot(row)
	if err != nil {
		return nil, mapError(err, "ballot for voter "+voterID)
	}
	return b, nil
}

func (s *Store) ListBallots(ctx context.Context, electionID string) ([]*models.Ballot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ballotColumns+` FROM ballots WHERE election_id = $1 ORDER BY created_at, vote_id`, electionID)
	if err != nil {
		return nil, mapError(err, "list ballots")
	}
	defer rows.Close()

	var out []*models.Ballot
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan ballot")
		}
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "list ballots")
}

func (s *Store) HasBallot(ctx context.Context, voterID, electionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ballots WHERE voter_id = $1 AND election_id = $2)`, voterID, electionID).
		Scan(&exists)
	if err != nil {
		return false, mapError(err, "has ballot")
	}
	return exists, nil
}
