package postgres

const schemaQuery = `
CREATE TABLE IF NOT EXISTS elections (
	election_id   UUID PRIMARY KEY,
	election_name TEXT NOT NULL,
	public_key    TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	CHECK (end_time > start_time)
);

CREATE TABLE IF NOT EXISTS candidates (
	candidate_id UUID PRIMARY KEY,
	election_id  UUID NOT NULL REFERENCES elections (election_id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	party_name   TEXT NOT NULL DEFAULT '',
	ordinal      INTEGER NOT NULL CHECK (ordinal >= 0),
	UNIQUE (election_id, ordinal)
);

CREATE TABLE IF NOT EXISTS election_keys (
	key_id                UUID PRIMARY KEY,
	election_id           UUID NOT NULL UNIQUE REFERENCES elections (election_id) ON DELETE CASCADE,
	encrypted_private_key TEXT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS voters (
	voter_id    UUID PRIMARY KEY,
	election_id UUID NOT NULL REFERENCES elections (election_id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL,
	gender      TEXT NOT NULL DEFAULT '',
	public_key  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (election_id, email)
);

CREATE TABLE IF NOT EXISTS ballots (
	vote_id        UUID PRIMARY KEY,
	voter_id       UUID NOT NULL REFERENCES voters (voter_id) ON DELETE CASCADE,
	election_id    UUID NOT NULL REFERENCES elections (election_id) ON DELETE CASCADE,
	encrypted_vote TEXT[] NOT NULL,
	random_value   TEXT NOT NULL,
	receipt_hash   TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (voter_id, election_id)
);

CREATE INDEX IF NOT EXISTS ballots_election_idx ON ballots (election_id);
CREATE INDEX IF NOT EXISTS voters_election_idx ON voters (election_id);
`
