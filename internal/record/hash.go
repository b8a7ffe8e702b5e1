package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainData prefixes snapshot data hashes. The version suffix allows migration.
const DomainData = "catalog/data/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DataHash computes the content hash of a payload's canonical encoding.
// Payloads that differ only in key order or Unicode normalization hash equally.
func DataHash(d Data) (string, error) {
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("data hash: %w", err)
	}
	return hashWithDomain(DomainData, canonical), nil
}
