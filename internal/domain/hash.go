package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for row content hashes. The version suffix allows the
// encoding to change without colliding with hashes of the old encoding.
const (
	HashDomainRow = "forgecache/row/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the canonical encoding of v under the row domain.
// Two values with the same canonical encoding always share a hash.
func ContentHash(v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return hashWithDomain(HashDomainRow, data), nil
}
