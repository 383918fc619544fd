package rfq

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"
)

// NewSalt returns a 128-bit order salt combining the current unix time in
// the high 64 bits with 64 random bits in the low word. The time component
// keeps salts monotonic across seconds; the random component keeps them
// unique under burst load within one second.
func NewSalt() (*big.Int, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("rfq: generating salt: %w", err)
	}
	random := binary.BigEndian.Uint64(buf[:])

	salt := new(big.Int).SetInt64(time.Now().Unix())
	salt.Lsh(salt, 64)
	return salt.Or(salt, new(big.Int).SetUint64(random)), nil
}

// packInfo packs an order expiry and nonce into the single uint256 "info"
// field of a 1inch OrderRFQ: expiry in the bits above 192, nonce below.
func packInfo(expiry int64, nonce *big.Int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), 192)
	mask.Sub(mask, big.NewInt(1))

	info := new(big.Int).SetInt64(expiry)
	info.Lsh(info, 192)
	return info.Or(info, new(big.Int).And(nonce, mask))
}
