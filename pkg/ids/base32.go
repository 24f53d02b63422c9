package ids

import (
	"fmt"
	"math/big"
	"strings"
)

var base32Index = func() map[byte]int64 {
	m := make(map[byte]int64, len(Base32Alphabet))
	for i := 0; i < len(Base32Alphabet); i++ {
		m[Base32Alphabet[i]] = int64(i)
	}
	return m
}()

// EncodeBase32 converts a non-negative big integer to this project's base32
// alphabet (digits 0-9 then letters a-v). Zero encodes as "0".
func EncodeBase32(n *big.Int) string {
	if n.Sign() < 0 {
		panic("ids: EncodeBase32 requires a non-negative integer")
	}
	if n.Sign() == 0 {
		return "0"
	}

	const shift = 5
	mask := big.NewInt(31)
	work := new(big.Int).Set(n)
	var out []byte
	tmp := new(big.Int)
	for work.Sign() != 0 {
		tmp.And(work, mask)
		out = append(out, Base32Alphabet[tmp.Int64()])
		work.Rsh(work, shift)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// DecodeBase32 converts a base32 string (this project's alphabet) to an
// integer. Empty or whitespace-only input yields zero.
func DecodeBase32(digest string) (*big.Int, error) {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if digest == "" {
		return big.NewInt(0), nil
	}
	result := new(big.Int)
	base := big.NewInt(32)
	for i := 0; i < len(digest); i++ {
		v, ok := base32Index[digest[i]]
		if !ok {
			return nil, fmt.Errorf("ids: invalid base32 digit %q in %q (valid alphabet: %s)", digest[i], digest, Base32Alphabet)
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(v))
	}
	return result, nil
}

// EncodeHexToBase32 converts a hexadecimal string to this project's base32.
// An empty string is treated as zero.
func EncodeHexToBase32(hexdigest string) (string, error) {
	hexdigest = strings.ToLower(strings.TrimSpace(hexdigest))
	if hexdigest == "" {
		return "0", nil
	}
	n, ok := new(big.Int).SetString(hexdigest, 16)
	if !ok {
		return "", fmt.Errorf("ids: invalid hexadecimal string: %s", hexdigest)
	}
	return EncodeBase32(n), nil
}
