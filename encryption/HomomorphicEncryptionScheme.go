package encryption

import "math/big"

// HomomorphicEncryptionScheme defines the additively homomorphic operations the
// voting core relies on. Keys are passed explicitly; implementations hold no key state.
type HomomorphicEncryptionScheme interface {
	// Identity information
	Name() string
	KeySize() int

	// Key lifecycle
	GenerateKeyPair() (*PublicKey, *PrivateKey, error)

	// Core operations
	Encrypt(pk *PublicKey, value *big.Int) (*Ciphertext, error)
	Decrypt(sk *PrivateKey, ciphertext *Ciphertext) (*big.Int, error)
	Add(pk *PublicKey, ciphertext1, ciphertext2 *Ciphertext) (*Ciphertext, error)
	MulConst(pk *PublicKey, ciphertext *Ciphertext, constant *big.Int) (*Ciphertext, error)

	// Ballot helpers
	EncryptOneHot(pk *PublicKey, selected, count int) ([]*Ciphertext, error)
	DecryptOneHot(sk *PrivateKey, ballot []*Ciphertext) (int, error)
	Sum(pk *PublicKey, ciphertexts []*Ciphertext) (*Ciphertext, error)

	// Analysis helpers
	EstimatedSecurityBits() int
}
