package encryption

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// NonceSize is the length in bytes of generated ballot random values.
const NonceSize = 32

type CryptoService struct{}

func NewCryptoService() *CryptoService {
	return &CryptoService{}
}

// GenerateNonce generates a random hex nonce for the ballot receipt
func (cs *CryptoService) GenerateNonce() (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to read random nonce")
	}
	return hex.EncodeToString(nonce), nil
}

// ReceiptHash fingerprints a cast ballot so a voter can later confirm it was stored
// unchanged. It binds the election, the voter, every ciphertext slot in order and
// the random value.
func (cs *CryptoService) ReceiptHash(electionID, voterID string, ballot []*Ciphertext, randomValue string) string {
	parts := make([][]byte, 0, len(ballot)+3)
	parts = append(parts, []byte(electionID), []byte(voterID))
	for _, c := range ballot {
		// Length-prefix each slot so adjacent slots cannot be re-split.
		b := c.Bytes()
		parts = append(parts, []byte{byte(len(b) >> 8), byte(len(b))}, b)
	}
	parts = append(parts, []byte(randomValue))
	return crypto.Keccak256Hash(parts...).Hex()
}
