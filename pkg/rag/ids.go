package rag

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// ChunkID derives the deterministic point ID for a chunk: the hex
// SHA-256 of text||source projected through a name-based UUID in the
// DNS namespace. Re-ingesting identical text for the same source
// yields the same ID.
func ChunkID(text, source string) string {
	sum := sha256.Sum256([]byte(text + source))
	digest := hex.EncodeToString(sum[:])
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(digest)).String()
}
