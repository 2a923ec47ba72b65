package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot = "island/snapshot/v1"
	DomainMessage  = "island/message/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash hashes canonical snapshot bytes. Replicas that agree on the
// replicated state agree on this value.
func SnapshotHash(canonical []byte) string {
	return hashWithDomain(DomainSnapshot, canonical)
}

// MessageDigest computes a content hash for one wire message at its ordering
// key. The reflector stores it alongside the log for audit.
func MessageDigest(time int64, seq uint64, payload string) (string, error) {
	obj := IRObject{
		"time":    IRInt(time),
		"seq":     IRInt(int64(seq)),
		"payload": IRString(payload),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("MessageDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainMessage, canonical), nil
}

// Seed derives a 64-bit value from an id, used to seed deterministic
// generators from a session id.
func Seed(id string) uint64 {
	sum := sha256.Sum256([]byte("island/seed/v1\x00" + id))
	var v uint64
	for _, b := range sum[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}
