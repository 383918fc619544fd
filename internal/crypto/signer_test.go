package crypto

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known anvil test key, never used on a live network
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testDomain = Domain{
		Name:              "Leverbot RFQ",
		Version:           "1",
		ChainID:           1,
		VerifyingContract: common.Address{},
	}
	testFields = []Field{
		{Name: "maker", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}
)

func testValues() []any {
	return []any{
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		big.NewInt(1_000_000),
	}
}

func TestNewSigner(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", signer.Address().Hex())

	// 0x prefix is accepted.
	prefixed, err := NewSigner("0x" + testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), prefixed.Address())

	_, err = NewSigner("nonsense")
	assert.Error(t, err)
}

func TestSignTypedDataDeterministic(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	first, err := signer.SignTypedData(testDomain, "Order", testFields, testValues())
	require.NoError(t, err)
	second, err := signer.SignTypedData(testDomain, "Order", testFields, testValues())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "0x"))
	assert.Len(t, first, 132) // 65 bytes hex encoded
}

func TestSignTypedDataRecoversSigner(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	sigHex, err := signer.SignTypedData(testDomain, "Order", testFields, testValues())
	require.NoError(t, err)

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	digest, err := HashTypedData(testDomain, "Order", testFields, testValues())
	require.NoError(t, err)

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestHashTypedDataVariesWithDomain(t *testing.T) {
	base, err := HashTypedData(testDomain, "Order", testFields, testValues())
	require.NoError(t, err)

	otherChain := testDomain
	otherChain.ChainID = 137
	altered, err := HashTypedData(otherChain, "Order", testFields, testValues())
	require.NoError(t, err)
	assert.NotEqual(t, base, altered)

	otherContract := testDomain
	otherContract.VerifyingContract = common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582")
	altered, err = HashTypedData(otherContract, "Order", testFields, testValues())
	require.NoError(t, err)
	assert.NotEqual(t, base, altered)
}

func TestHashTypedDataErrors(t *testing.T) {
	t.Run("field value count mismatch", func(t *testing.T) {
		_, err := HashTypedData(testDomain, "Order", testFields, []any{big.NewInt(1)})
		assert.Error(t, err)
	})

	t.Run("wrong value type for uint256", func(t *testing.T) {
		_, err := HashTypedData(testDomain, "Order", testFields, []any{
			common.Address{}, "not-a-bigint",
		})
		assert.ErrorContains(t, err, "uint256")
	})

	t.Run("wrong value type for address", func(t *testing.T) {
		_, err := HashTypedData(testDomain, "Order", testFields, []any{
			big.NewInt(1), big.NewInt(2),
		})
		assert.ErrorContains(t, err, "address")
	})

	t.Run("unsupported field type", func(t *testing.T) {
		_, err := HashTypedData(testDomain, "Order",
			[]Field{{Name: "flag", Type: "bool"}}, []any{true})
		assert.ErrorContains(t, err, "unsupported field type")
	})

	t.Run("negative uint256", func(t *testing.T) {
		_, err := HashTypedData(testDomain, "Order",
			[]Field{{Name: "amount", Type: "uint256"}}, []any{big.NewInt(-1)})
		assert.ErrorContains(t, err, "uint256 range")
	})
}
