package encryption

import (
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeySize = 512

var (
	testKeysOnce sync.Once
	testPK       *PublicKey
	testSK       *PrivateKey
)

func testScheme(t *testing.T) (*PaillierScheme, *PublicKey, *PrivateKey) {
	t.Helper()
	scheme, err := NewPaillierScheme(testKeySize)
	require.NoError(t, err)

	testKeysOnce.Do(func() {
		testPK, testSK, err = scheme.GenerateKeyPair()
	})
	require.NoError(t, err)
	require.NotNil(t, testSK)
	return scheme, testPK, testSK
}

func TestNewPaillierSchemeRejectsBadSizes(t *testing.T) {
	for _, size := range []int{0, 64, 127, 513} {
		_, err := NewPaillierScheme(size)
		assert.Error(t, err, "size %d", size)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	assert.Equal(t, testKeySize, pk.N.BitLen())
	assert.Equal(t, 0, new(big.Int).Add(pk.N, one).Cmp(pk.G))
	assert.Equal(t, 0, new(big.Int).Mul(sk.P, sk.Q).Cmp(pk.N))
	assert.True(t, sk.PublicKey().Equal(pk))
	assert.Equal(t, "Paillier-512", scheme.Name())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	values := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(2),
		big.NewInt(12345),
		new(big.Int).Lsh(one, 200),
		new(big.Int).Sub(pk.N, one),
	}
	for _, m := range values {
		c, err := scheme.Encrypt(pk, m)
		require.NoError(t, err)
		require.NoError(t, c.Validate(pk))

		got, err := scheme.Decrypt(sk, c)
		require.NoError(t, err)
		assert.Equal(t, 0, m.Cmp(got), "round trip of %s", m)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	scheme, pk, _ := testScheme(t)

	a, err := scheme.EncryptInt(pk, 1)
	require.NoError(t, err)
	b, err := scheme.EncryptInt(pk, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), b.String())
}

func TestEncryptRejectsOutOfRange(t *testing.T) {
	scheme, pk, _ := testScheme(t)

	_, err := scheme.Encrypt(pk, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrMessageOutOfRange)

	_, err = scheme.Encrypt(pk, pk.N)
	assert.ErrorIs(t, err, ErrMessageOutOfRange)
}

func TestHomomorphicOperations(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	c15, err := scheme.EncryptInt(pk, 15)
	require.NoError(t, err)
	c27, err := scheme.EncryptInt(pk, 27)
	require.NoError(t, err)

	t.Run("Add", func(t *testing.T) {
		sum, err := scheme.Add(pk, c15, c27)
		require.NoError(t, err)
		m, err := scheme.Decrypt(sk, sum)
		require.NoError(t, err)
		assert.Equal(t, int64(42), m.Int64())
	})

	t.Run("MulConst", func(t *testing.T) {
		prod, err := scheme.MulConst(pk, c15, big.NewInt(10))
		require.NoError(t, err)
		m, err := scheme.Decrypt(sk, prod)
		require.NoError(t, err)
		assert.Equal(t, int64(150), m.Int64())
	})

	t.Run("Sum", func(t *testing.T) {
		total, err := scheme.Sum(pk, []*Ciphertext{c15, c27, c15})
		require.NoError(t, err)
		m, err := scheme.Decrypt(sk, total)
		require.NoError(t, err)
		assert.Equal(t, int64(57), m.Int64())
	})

	t.Run("SumEmpty", func(t *testing.T) {
		total, err := scheme.Sum(pk, nil)
		require.NoError(t, err)
		m, err := scheme.Decrypt(sk, total)
		require.NoError(t, err)
		assert.Equal(t, int64(0), m.Int64())
	})
}

func TestOneHotRoundTrip(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	for n := 2; n <= 5; n++ {
		for i := 0; i < n; i++ {
			ballot, err := scheme.EncryptOneHot(pk, i, n)
			require.NoError(t, err)
			require.Len(t, ballot, n)

			got, err := scheme.DecryptOneHot(sk, ballot)
			require.NoError(t, err)
			assert.Equal(t, i, got, "n=%d", n)
		}
	}
}

func TestEncryptOneHotRejectsBadIndex(t *testing.T) {
	scheme, pk, _ := testScheme(t)

	_, err := scheme.EncryptOneHot(pk, 3, 3)
	assert.Error(t, err)
	_, err = scheme.EncryptOneHot(pk, -1, 3)
	assert.Error(t, err)
	_, err = scheme.EncryptOneHot(pk, 0, 0)
	assert.Error(t, err)
}

func TestDecryptOneHotMalformed(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	enc := func(values ...int64) []*Ciphertext {
		out := make([]*Ciphertext, len(values))
		for i, v := range values {
			c, err := scheme.EncryptInt(pk, v)
			require.NoError(t, err)
			out[i] = c
		}
		return out
	}

	tests := []struct {
		name   string
		ballot []*Ciphertext
	}{
		{"Empty", nil},
		{"NoSelection", enc(0, 0, 0)},
		{"DoubleSelection", enc(1, 0, 1)},
		{"NotABit", enc(0, 2, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scheme.DecryptOneHot(sk, tt.ballot)
			assert.ErrorIs(t, err, ErrMalformedBallot)
		})
	}

	t.Run("TamperedSlot", func(t *testing.T) {
		ballot := enc(0, 1, 0)
		ballot[0] = &Ciphertext{C: new(big.Int).Add(ballot[0].C, big.NewInt(1))}
		_, err := scheme.DecryptOneHot(sk, ballot)
		assert.ErrorIs(t, err, ErrMalformedBallot)
	})

	t.Run("OutOfRangeSlot", func(t *testing.T) {
		ballot := enc(0, 1, 0)
		ballot[2] = &Ciphertext{C: pk.NSquared()}
		_, err := scheme.DecryptOneHot(sk, ballot)
		assert.ErrorIs(t, err, ErrMalformedBallot)
	})
}

func TestCiphertextValidate(t *testing.T) {
	_, pk, _ := testScheme(t)

	assert.ErrorIs(t, (&Ciphertext{C: big.NewInt(0)}).Validate(pk), ErrInvalidCiphertext)
	assert.ErrorIs(t, (&Ciphertext{C: pk.NSquared()}).Validate(pk), ErrInvalidCiphertext)
	assert.ErrorIs(t, (&Ciphertext{C: new(big.Int).Set(pk.N)}).Validate(pk), ErrInvalidCiphertext)
	assert.ErrorIs(t, (*Ciphertext)(nil).Validate(pk), ErrInvalidCiphertext)
	assert.NoError(t, (&Ciphertext{C: big.NewInt(1)}).Validate(pk))
}

func TestCiphertextTextForm(t *testing.T) {
	scheme, pk, _ := testScheme(t)

	ballot, err := scheme.EncryptOneHot(pk, 1, 3)
	require.NoError(t, err)

	parsed, err := ParseCiphertexts(FormatCiphertexts(ballot))
	require.NoError(t, err)
	for i := range ballot {
		assert.Equal(t, 0, ballot[i].C.Cmp(parsed[i].C))
	}

	_, err = ParseCiphertexts([]string{"12", "0xzz"})
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestKeySerialization(t *testing.T) {
	scheme, pk, sk := testScheme(t)

	pubJSON, err := json.Marshal(pk)
	require.NoError(t, err)
	pk2, err := ParsePublicKey(pubJSON)
	require.NoError(t, err)
	assert.True(t, pk.Equal(pk2))

	privJSON, err := json.Marshal(sk)
	require.NoError(t, err)
	assert.Contains(t, string(privJSON), `"p"`)
	assert.Contains(t, string(privJSON), `"q"`)
	sk2, err := ParsePrivateKey(privJSON)
	require.NoError(t, err)

	c, err := scheme.EncryptInt(pk2, 7)
	require.NoError(t, err)
	m, err := scheme.Decrypt(sk2, c)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Int64())
}

func TestParseKeysRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKey([]byte(`{"n":"35","g":"35"}`))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePublicKey([]byte(`{"n":"abc","g":"1"}`))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = ParsePrivateKey([]byte(`{"p":"7","q":"7"}`))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
	_, err = ParsePrivateKey([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestReceiptHash(t *testing.T) {
	scheme, pk, _ := testScheme(t)
	cs := NewCryptoService()

	ballot, err := scheme.EncryptOneHot(pk, 0, 2)
	require.NoError(t, err)

	nonce, err := cs.GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, 2*NonceSize)

	h1 := cs.ReceiptHash("e", "v", ballot, nonce)
	h2 := cs.ReceiptHash("e", "v", ballot, nonce)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 66)
	assert.NotEqual(t, h1, cs.ReceiptHash("e", "v2", ballot, nonce))
	assert.NotEqual(t, h1, cs.ReceiptHash("e", "v", ballot[:1], nonce))
}

func TestEstimatedSecurityBits(t *testing.T) {
	tests := []struct {
		keySize int
		want    int
	}{
		{512, 0},
		{1024, 80},
		{1536, 80},
		{2048, 112},
		{3072, 128},
		{4096, 128},
		{8192, 192},
	}
	for _, tt := range tests {
		scheme, err := NewPaillierScheme(tt.keySize)
		require.NoError(t, err)
		assert.Equal(t, tt.want, scheme.EstimatedSecurityBits(), "key size %d", tt.keySize)
		assert.Equal(t, tt.want, SecurityBits(tt.keySize))
	}
}
