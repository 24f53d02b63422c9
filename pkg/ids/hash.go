package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSignature computes a short, URL-safe hash signature for an arbitrary
// Go value. The value is canonicalized with encoding/json (which sorts map
// keys, giving deterministic output for struct and map values alike), hashed
// with sha256, and the digest is re-encoded with this project's base32
// alphabet before being truncated to SignatureLength characters.
func HashSignature(v any) (string, error) {
	full, err := FullHashSignature(v)
	if err != nil {
		return "", err
	}
	if len(full) > SignatureLength {
		return full[:SignatureLength], nil
	}
	return full, nil
}

// FullHashSignature returns the untruncated base32 digest for v.
func FullHashSignature(v any) (string, error) {
	hex, err := Base16HashSignature(v)
	if err != nil {
		return "", err
	}
	return EncodeHexToBase32(hex)
}

// Base16HashSignature returns the hexadecimal sha256 digest of v's
// canonical JSON encoding.
func Base16HashSignature(v any) (string, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("ids: cannot canonicalize value for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MustHashSignature is HashSignature for values known to be JSON-marshalable
// (e.g. internally constructed packed kwargs). It panics on error, matching
// the narrow, always-succeeds use sites it exists for.
func MustHashSignature(v any) string {
	sig, err := HashSignature(v)
	if err != nil {
		panic(err)
	}
	return sig
}
