package encryption

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidCiphertext is returned for values that cannot be a ciphertext under a key.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Ciphertext is a single Paillier ciphertext, an element of Z*_{n²}.
type Ciphertext struct {
	C *big.Int
}

// ParseCiphertext reads the decimal text form.
func ParseCiphertext(s string) (*Ciphertext, error) {
	c, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidCiphertext, "%q is not a decimal integer", s)
	}
	return &Ciphertext{C: c}, nil
}

// ParseCiphertexts reads an ordered ballot vector.
func ParseCiphertexts(values []string) ([]*Ciphertext, error) {
	out := make([]*Ciphertext, len(values))
	for i, v := range values {
		c, err := ParseCiphertext(v)
		if err != nil {
			return nil, errors.Wrapf(err, "slot %d", i)
		}
		out[i] = c
	}
	return out, nil
}

// FormatCiphertexts is the inverse of ParseCiphertexts.
func FormatCiphertexts(cts []*Ciphertext) []string {
	out := make([]string, len(cts))
	for i, c := range cts {
		out[i] = c.String()
	}
	return out
}

func (c *Ciphertext) String() string {
	if c == nil || c.C == nil {
		return ""
	}
	return c.C.String()
}

// Bytes returns the big-endian form used by the paillier library.
func (c *Ciphertext) Bytes() []byte {
	return c.C.Bytes()
}

// Validate checks 0 < c < n² and gcd(c, n) = 1.
func (c *Ciphertext) Validate(pk *PublicKey) error {
	if c == nil || c.C == nil {
		return errors.Wrap(ErrInvalidCiphertext, "empty value")
	}
	if c.C.Sign() <= 0 || c.C.Cmp(pk.NSquared()) >= 0 {
		return errors.Wrap(ErrInvalidCiphertext, "value outside (0, n²)")
	}
	if new(big.Int).GCD(nil, nil, c.C, pk.N).Cmp(one) != 0 {
		return errors.Wrap(ErrInvalidCiphertext, "value shares a factor with n")
	}
	return nil
}

func (c *Ciphertext) MarshalText() ([]byte, error) {
	if c == nil || c.C == nil {
		return nil, ErrInvalidCiphertext
	}
	return []byte(c.C.String()), nil
}

func (c *Ciphertext) UnmarshalText(text []byte) error {
	parsed, err := ParseCiphertext(string(text))
	if err != nil {
		return err
	}
	c.C = parsed.C
	return nil
}
