package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainManifest = "quarry/manifest/v1"
	DomainArtifact = "quarry/artifact/v1"
	DomainSchema   = "quarry/schema/v1"
)

// ContentHashLen is the hex length of truncated content hashes. A
// 64-bit prefix is ample for a per-id version namespace and keeps
// hashes readable in evidence records and CLI output.
const ContentHashLen = 16

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes the truncated content hash of a normalized
// manifest document. Identical logical content always yields the same
// hash; any behavioral change yields a different one. This is the
// identity the store's conflict detection is built on.
func ContentHash(doc map[string]any) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainManifest, canonical)[:ContentHashLen], nil
}

// ArtifactHash computes the truncated content hash of raw artifact bytes.
// Recorded on evidence records so outputs can be verified post hoc.
func ArtifactHash(data []byte) string {
	return hashWithDomain(DomainArtifact, data)[:ContentHashLen]
}

// SchemaHash computes the full-length hash of a schema definition.
// Used by the registry to detect conflicting re-onboarding of the
// same schema version.
func SchemaHash(definition string) string {
	return hashWithDomain(DomainSchema, []byte(definition))
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentHash(doc map[string]any) string {
	h, err := ContentHash(doc)
	if err != nil {
		panic(err)
	}
	return h
}
