package encryption

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/pkg/errors"
	"github.com/roasbeef/go-go-gadget-paillier"
)

const (
	// DefaultKeySize is the modulus size used for new elections.
	DefaultKeySize = 2048
	// MinKeySize keeps test keys large enough to hold small plaintexts.
	MinKeySize = 128
)

var (
	// ErrMessageOutOfRange is returned for plaintexts outside [0, n).
	ErrMessageOutOfRange = errors.New("plaintext outside [0, n)")
	// ErrMalformedBallot is returned when a decrypted ballot is not a one-hot vector.
	ErrMalformedBallot = errors.New("malformed ballot")
)

// PaillierScheme adapts the Paillier implementation to the HomomorphicEncryptionScheme
// interface. The library does not expose the prime factors of its private key, so key
// generation and decryption work from (p, q) here while encryption and the homomorphic
// operations go through the library.
type PaillierScheme struct {
	keySize int
}

// NewPaillierScheme creates a scheme that generates keys of the given modulus size.
func NewPaillierScheme(keySize int) (*PaillierScheme, error) {
	if keySize < MinKeySize || keySize%2 != 0 {
		return nil, fmt.Errorf("paillier key size must be an even number >= %d, got %d", MinKeySize, keySize)
	}
	return &PaillierScheme{keySize: keySize}, nil
}

// Name returns the name of the encryption scheme
func (p *PaillierScheme) Name() string {
	return fmt.Sprintf("Paillier-%d", p.keySize)
}

// KeySize returns the key size in bits
func (p *PaillierScheme) KeySize() int {
	return p.keySize
}

// GenerateKeyPair draws two distinct primes of half the modulus size.
func (p *PaillierScheme) GenerateKeyPair() (*PublicKey, *PrivateKey, error) {
	for {
		pp, err := rand.Prime(rand.Reader, p.keySize/2)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to generate prime p")
		}
		qq, err := rand.Prime(rand.Reader, p.keySize/2)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to generate prime q")
		}

		sk, err := NewPrivateKey(pp, qq)
		if err != nil {
			// p == q or gcd(phi, n) != 1; both are astronomically rare, so redraw.
			continue
		}
		if sk.n.BitLen() != p.keySize {
			continue
		}
		return sk.PublicKey(), sk, nil
	}
}

// Encrypt encrypts a plaintext in [0, n).
func (p *PaillierScheme) Encrypt(pk *PublicKey, value *big.Int) (*Ciphertext, error) {
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() < 0 || value.Cmp(pk.N) >= 0 {
		return nil, ErrMessageOutOfRange
	}

	c, err := paillier.Encrypt(pk.paillierKey(), value.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "paillier encryption failed")
	}
	return &Ciphertext{C: new(big.Int).SetBytes(c)}, nil
}

// EncryptInt is Encrypt for small non-negative integers.
func (p *PaillierScheme) EncryptInt(pk *PublicKey, value int64) (*Ciphertext, error) {
	return p.Encrypt(pk, big.NewInt(value))
}

// Decrypt decrypts a ciphertext back to its plaintext.
func (p *PaillierScheme) Decrypt(sk *PrivateKey, ciphertext *Ciphertext) (*big.Int, error) {
	if sk == nil || sk.n == nil {
		return nil, ErrInvalidPrivateKey
	}
	if err := ciphertext.Validate(sk.PublicKey()); err != nil {
		return nil, err
	}
	return sk.decrypt(ciphertext.C), nil
}

// Add performs homomorphic addition of two ciphertexts
func (p *PaillierScheme) Add(pk *PublicKey, ciphertext1, ciphertext2 *Ciphertext) (*Ciphertext, error) {
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	if err := ciphertext1.Validate(pk); err != nil {
		return nil, err
	}
	if err := ciphertext2.Validate(pk); err != nil {
		return nil, err
	}

	sum := paillier.AddCipher(pk.paillierKey(), ciphertext1.Bytes(), ciphertext2.Bytes())
	return &Ciphertext{C: new(big.Int).SetBytes(sum)}, nil
}

// MulConst multiplies the plaintext under a ciphertext by a non-negative constant.
func (p *PaillierScheme) MulConst(pk *PublicKey, ciphertext *Ciphertext, constant *big.Int) (*Ciphertext, error) {
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	if err := ciphertext.Validate(pk); err != nil {
		return nil, err
	}
	if constant == nil || constant.Sign() < 0 {
		return nil, ErrMessageOutOfRange
	}

	product := paillier.Mul(pk.paillierKey(), ciphertext.Bytes(), constant.Bytes())
	return &Ciphertext{C: new(big.Int).SetBytes(product)}, nil
}

// Sum homomorphically adds every ciphertext in order.
func (p *PaillierScheme) Sum(pk *PublicKey, ciphertexts []*Ciphertext) (*Ciphertext, error) {
	if len(ciphertexts) == 0 {
		return p.EncryptInt(pk, 0)
	}
	acc := ciphertexts[0]
	if err := acc.Validate(pk); err != nil {
		return nil, err
	}
	for _, c := range ciphertexts[1:] {
		next, err := p.Add(pk, acc, c)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// EncryptOneHot encrypts a ballot vector of length count with a 1 at selected.
// Every slot is an independent encryption, so slots are indistinguishable.
func (p *PaillierScheme) EncryptOneHot(pk *PublicKey, selected, count int) ([]*Ciphertext, error) {
	if count < 1 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", count)
	}
	if selected < 0 || selected >= count {
		return nil, fmt.Errorf("selected index %d out of range [0, %d)", selected, count)
	}

	ballot := make([]*Ciphertext, count)
	for i := range ballot {
		var bit int64
		if i == selected {
			bit = 1
		}
		c, err := p.EncryptInt(pk, bit)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encrypt slot %d", i)
		}
		ballot[i] = c
	}
	return ballot, nil
}

// DecryptOneHot decrypts every slot and returns the index of the only 1.
func (p *PaillierScheme) DecryptOneHot(sk *PrivateKey, ballot []*Ciphertext) (int, error) {
	if len(ballot) == 0 {
		return -1, errors.Wrap(ErrMalformedBallot, "empty ballot")
	}

	selected := -1
	for i, c := range ballot {
		m, err := p.Decrypt(sk, c)
		if err != nil {
			return -1, errors.Wrapf(ErrMalformedBallot, "slot %d: %v", i, err)
		}
		switch {
		case m.Sign() == 0:
		case m.Cmp(one) == 0:
			if selected >= 0 {
				return -1, errors.Wrapf(ErrMalformedBallot, "slots %d and %d both selected", selected, i)
			}
			selected = i
		default:
			return -1, errors.Wrapf(ErrMalformedBallot, "slot %d is neither 0 nor 1", i)
		}
	}
	if selected < 0 {
		return -1, errors.Wrap(ErrMalformedBallot, "no slot selected")
	}
	return selected, nil
}

// securityLevels maps RSA-style modulus sizes to symmetric-equivalent strength,
// strongest first (NIST SP 800-57 part 1, table 2).
var securityLevels = []struct {
	modulus int
	bits    int
}{
	{15360, 256},
	{7680, 192},
	{3072, 128},
	{2048, 112},
	{1024, 80},
}

// MinSecureBits is the weakest strength accepted without a warning.
const MinSecureBits = 112

// SecurityBits estimates the strength of a modulus of the given size. Moduli
// below 1024 bits report 0.
func SecurityBits(modulusBits int) int {
	for _, level := range securityLevels {
		if modulusBits >= level.modulus {
			return level.bits
		}
	}
	return 0
}

// EstimatedSecurityBits is SecurityBits for the configured key size.
func (p *PaillierScheme) EstimatedSecurityBits() int {
	return SecurityBits(p.keySize)
}
