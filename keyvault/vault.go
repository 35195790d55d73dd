// Package keyvault stores election private keys sealed under the master secret.
// Plaintext key material only exists in memory between Retrieve and its caller.
package keyvault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/models"
	"evoting-core/storage"
)

var (
	ErrKeyNotFound       = errors.New("election key not found")
	ErrDecryptionFailure = errors.New("election key could not be decrypted")
)

// KeyStore is the part of storage.Repository the vault needs.
type KeyStore interface {
	InsertKeyRecord(ctx context.Context, record *models.KeyRecord) error
	GetKeyRecord(ctx context.Context, electionID string) (*models.KeyRecord, error)
}

type Vault struct {
	store    KeyStore
	envelope *Envelope
	now      func() time.Time
}

func New(store KeyStore, master []byte, iterations int) (*Vault, error) {
	env, err := NewEnvelope(master, iterations)
	if err != nil {
		return nil, err
	}
	return &Vault{store: store, envelope: env, now: time.Now}, nil
}

// Store seals material and writes the key record for the election.
func (v *Vault) Store(ctx context.Context, electionID string, material []byte) (string, error) {
	sealed, err := v.envelope.Seal(material)
	if err != nil {
		return "", err
	}

	record := &models.KeyRecord{
		KeyID:               uuid.NewString(),
		ElectionID:          electionID,
		EncryptedPrivateKey: sealed,
		CreatedAt:           v.now().UTC(),
	}
	if err := v.store.InsertKeyRecord(ctx, record); err != nil {
		return "", errors.Wrapf(err, "failed to store key for election %s", electionID)
	}

	log.Info().
		Str("election_id", electionID).
		Str("key_id", record.KeyID).
		Msg("Stored election key")
	return record.KeyID, nil
}

// Retrieve loads and opens the key record for the election.
func (v *Vault) Retrieve(ctx context.Context, electionID string) ([]byte, error) {
	record, err := v.store.GetKeyRecord(ctx, electionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(ErrKeyNotFound, "election %s", electionID)
		}
		return nil, errors.Wrapf(err, "failed to load key for election %s", electionID)
	}

	material, err := v.envelope.Open(record.EncryptedPrivateKey)
	if err != nil {
		log.Error().
			Err(err).
			Str("election_id", electionID).
			Str("key_id", record.KeyID).
			Msg("Failed to open election key")
		return nil, err
	}
	return material, nil
}
