package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomSignature generates a short, cryptographically random base32
// signature string. SignatureLength*5 random bits are requested (each
// base32 character encodes 5 bits), so the encoded string is at most
// SignatureLength characters long; it is shorter when the leading random
// digits are zero, since the encoding drops leading zeros.
func RandomSignature() (string, error) {
	bits := SignatureLength * 5
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("ids: failed to read randomness: %w", err)
	}
	s := EncodeBase32(n)
	if len(s) > SignatureLength {
		s = s[:SignatureLength]
	}
	return s, nil
}
