package rfq

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSalt(t *testing.T) {
	before := time.Now().Unix()
	salt, err := NewSalt()
	require.NoError(t, err)
	after := time.Now().Unix()

	// High 64 bits carry the unix timestamp.
	ts := new(big.Int).Rsh(salt, 64).Int64()
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestNewSaltUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		salt, err := NewSalt()
		require.NoError(t, err)
		s := salt.String()
		assert.False(t, seen[s], "duplicate salt %s", s)
		seen[s] = true
	}
}

func TestPackInfo(t *testing.T) {
	expiry := int64(1_900_000_000)
	nonce := big.NewInt(12345)

	info := packInfo(expiry, nonce)

	assert.Equal(t, expiry, new(big.Int).Rsh(info, 192).Int64())

	mask := new(big.Int).Lsh(big.NewInt(1), 192)
	mask.Sub(mask, big.NewInt(1))
	assert.Equal(t, "12345", new(big.Int).And(info, mask).String())
}

func TestPackInfoTruncatesOversizedNonce(t *testing.T) {
	// A nonce wider than 192 bits must not bleed into the expiry word.
	nonce := new(big.Int).Lsh(big.NewInt(1), 200)
	info := packInfo(60, nonce)

	assert.Equal(t, int64(60), new(big.Int).Rsh(info, 192).Int64())
}
