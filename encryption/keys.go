package encryption

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
	"github.com/roasbeef/go-go-gadget-paillier"
)

var one = big.NewInt(1)

var (
	// ErrInvalidPublicKey is returned for a public key that is not of the form (n, n+1).
	ErrInvalidPublicKey = errors.New("invalid paillier public key")
	// ErrInvalidPrivateKey is returned when (p, q) cannot form a usable keypair.
	ErrInvalidPrivateKey = errors.New("invalid paillier private key")
)

// PublicKey is the public half of an election keypair. G is always N+1.
type PublicKey struct {
	N *big.Int
	G *big.Int
}

type publicKeyJSON struct {
	N string `json:"n"`
	G string `json:"g"`
}

// NewPublicKey builds the public key for modulus n.
func NewPublicKey(n *big.Int) *PublicKey {
	return &PublicKey{
		N: new(big.Int).Set(n),
		G: new(big.Int).Add(n, one),
	}
}

// NSquared returns n².
func (pk *PublicKey) NSquared() *big.Int {
	return new(big.Int).Mul(pk.N, pk.N)
}

// Validate checks the key is structurally usable.
func (pk *PublicKey) Validate() error {
	if pk == nil || pk.N == nil || pk.G == nil {
		return errors.Wrap(ErrInvalidPublicKey, "missing modulus or generator")
	}
	if pk.N.Cmp(big.NewInt(3)) < 0 {
		return errors.Wrap(ErrInvalidPublicKey, "modulus too small")
	}
	if pk.G.Cmp(new(big.Int).Add(pk.N, one)) != 0 {
		return errors.Wrap(ErrInvalidPublicKey, "generator must be n+1")
	}
	return nil
}

// Equal reports whether both keys share the same modulus.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil || pk.N == nil || other.N == nil {
		return false
	}
	return pk.N.Cmp(other.N) == 0 && pk.G.Cmp(other.G) == 0
}

// paillierKey converts to the library representation.
func (pk *PublicKey) paillierKey() *paillier.PublicKey {
	return &paillier.PublicKey{
		N:        pk.N,
		G:        pk.G,
		NSquared: pk.NSquared(),
	}
}

// MarshalJSON encodes the key as decimal strings {"n": ..., "g": ...}.
func (pk *PublicKey) MarshalJSON() ([]byte, error) {
	if pk == nil || pk.N == nil || pk.G == nil {
		return []byte("null"), nil
	}
	return json.Marshal(publicKeyJSON{N: pk.N.String(), G: pk.G.String()})
}

// UnmarshalJSON decodes and validates a key produced by MarshalJSON.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var raw publicKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	n, ok := new(big.Int).SetString(raw.N, 10)
	if !ok {
		return errors.Wrap(ErrInvalidPublicKey, "modulus is not a decimal integer")
	}
	g, ok := new(big.Int).SetString(raw.G, 10)
	if !ok {
		return errors.Wrap(ErrInvalidPublicKey, "generator is not a decimal integer")
	}
	parsed := PublicKey{N: n, G: g}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// ParsePublicKey decodes the JSON form of a public key.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	pk := new(PublicKey)
	if err := pk.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return pk, nil
}

// PrivateKey is the secret half of an election keypair, held as its prime factors.
// It is serialized only to be sealed by the key vault.
type PrivateKey struct {
	P *big.Int
	Q *big.Int

	n   *big.Int
	nsq *big.Int
	phi *big.Int
	mu  *big.Int
}

type privateKeyJSON struct {
	P string `json:"p"`
	Q string `json:"q"`
}

// NewPrivateKey derives the decryption parameters from p and q.
func NewPrivateKey(p, q *big.Int) (*PrivateKey, error) {
	sk := &PrivateKey{P: new(big.Int).Set(p), Q: new(big.Int).Set(q)}
	if err := sk.precompute(); err != nil {
		return nil, err
	}
	return sk, nil
}

func (sk *PrivateKey) precompute() error {
	if sk.P == nil || sk.Q == nil || sk.P.Cmp(one) <= 0 || sk.Q.Cmp(one) <= 0 {
		return errors.Wrap(ErrInvalidPrivateKey, "factors must be greater than one")
	}
	if sk.P.Cmp(sk.Q) == 0 {
		return errors.Wrap(ErrInvalidPrivateKey, "factors must be distinct")
	}

	n := new(big.Int).Mul(sk.P, sk.Q)
	phi := new(big.Int).Mul(
		new(big.Int).Sub(sk.P, one),
		new(big.Int).Sub(sk.Q, one),
	)
	// With g = n+1, L(c^phi mod n²) = m·phi mod n, so mu = phi⁻¹ mod n.
	mu := new(big.Int).ModInverse(phi, n)
	if mu == nil {
		return errors.Wrap(ErrInvalidPrivateKey, "phi(n) is not invertible mod n")
	}

	sk.n = n
	sk.nsq = new(big.Int).Mul(n, n)
	sk.phi = phi
	sk.mu = mu
	return nil
}

// PublicKey returns the matching public key.
func (sk *PrivateKey) PublicKey() *PublicKey {
	return NewPublicKey(sk.n)
}

// decrypt assumes c has already been validated against the modulus.
func (sk *PrivateKey) decrypt(c *big.Int) *big.Int {
	u := new(big.Int).Exp(c, sk.phi, sk.nsq)
	u.Sub(u, one)
	u.Div(u, sk.n)
	u.Mul(u, sk.mu)
	return u.Mod(u, sk.n)
}

// MarshalJSON encodes the factors as decimal strings {"p": ..., "q": ...}.
func (sk *PrivateKey) MarshalJSON() ([]byte, error) {
	if sk == nil || sk.P == nil || sk.Q == nil {
		return nil, ErrInvalidPrivateKey
	}
	return json.Marshal(privateKeyJSON{P: sk.P.String(), Q: sk.Q.String()})
}

// UnmarshalJSON decodes the factors and recomputes the decryption parameters.
func (sk *PrivateKey) UnmarshalJSON(data []byte) error {
	var raw privateKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(ErrInvalidPrivateKey, err.Error())
	}
	p, ok := new(big.Int).SetString(raw.P, 10)
	if !ok {
		return errors.Wrap(ErrInvalidPrivateKey, "p is not a decimal integer")
	}
	q, ok := new(big.Int).SetString(raw.Q, 10)
	if !ok {
		return errors.Wrap(ErrInvalidPrivateKey, "q is not a decimal integer")
	}
	parsed, err := NewPrivateKey(p, q)
	if err != nil {
		return err
	}
	*sk = *parsed
	return nil
}

// ParsePrivateKey decodes key material released by the key vault.
func ParsePrivateKey(data []byte) (*PrivateKey, error) {
	sk := new(PrivateKey)
	if err := sk.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return sk, nil
}
