package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// eip712DomainTypeHash is the pre-computed keccak256 of the canonical domain
// type string used by all RFQ venues (name, version, chainId, verifying
// contract).
var eip712DomainTypeHash = ethcrypto.Keccak256(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// Domain is the EIP-712 domain separator input for one venue.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Field describes one member of a typed struct. Supported Solidity types are
// uint256 and address; that covers every RFQ order schema leverbot signs.
type Field struct {
	Name string
	Type string
}

// Signer signs EIP-712 typed structured data with a process-wide secp256k1
// key fixed at startup.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTypedData hashes the struct described by (primaryType, fields, values)
// under the given domain and signs the resulting EIP-712 digest. It returns a
// hex-encoded 65-byte signature (r || s || v, v in {27,28}).
//
// fields and values must be parallel; each value must be a *big.Int for
// uint256 fields or a common.Address for address fields.
func (s *Signer) SignTypedData(domain Domain, primaryType string, fields []Field, values []any) (string, error) {
	digest, err := HashTypedData(domain, primaryType, fields, values)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// HashTypedData computes the EIP-712 digest for a typed struct:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
//
// The digest doubles as the venue-facing order hash.
func HashTypedData(domain Domain, primaryType string, fields []Field, values []any) ([]byte, error) {
	structHash, err := hashStruct(primaryType, fields, values)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			hashDomain(domain),
			structHash,
		),
	), nil
}

// hashDomain returns keccak256(abi.encode(typeHash, nameHash, versionHash,
// chainId, verifyingContract)).
func hashDomain(d Domain) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// hashStruct encodes and hashes a typed struct according to EIP-712.
func hashStruct(primaryType string, fields []Field, values []any) ([]byte, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("crypto/signer: %s: %d fields but %d values", primaryType, len(fields), len(values))
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Type + " " + f.Name
	}
	typeHash := ethcrypto.Keccak256(
		[]byte(primaryType + "(" + strings.Join(parts, ",") + ")"),
	)

	encoded := make([][]byte, 0, len(fields)+1)
	encoded = append(encoded, typeHash)
	for i, f := range fields {
		word, err := encodeWord(f, values[i])
		if err != nil {
			return nil, fmt.Errorf("crypto/signer: %s.%s: %w", primaryType, f.Name, err)
		}
		encoded = append(encoded, word)
	}

	return ethcrypto.Keccak256(concatBytes(encoded...)), nil
}

// encodeWord encodes one field value into a 32-byte ABI word.
func encodeWord(f Field, value any) ([]byte, error) {
	switch f.Type {
	case "uint256":
		n, ok := value.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("expected *big.Int for uint256, got %T", value)
		}
		if n.Sign() < 0 || n.BitLen() > 256 {
			return nil, fmt.Errorf("value out of uint256 range")
		}
		return bigIntTo32Bytes(n), nil
	case "address":
		addr, ok := value.(common.Address)
		if !ok {
			return nil, fmt.Errorf("expected common.Address for address, got %T", value)
		}
		return common.LeftPadBytes(addr.Bytes(), 32), nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", f.Type)
	}
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
