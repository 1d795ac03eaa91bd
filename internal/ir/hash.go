package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainProgram = "apifuzz/program/v1"
	DomainBatch   = "apifuzz/batch/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash computes a content hash of program source text.
//
// The source is NFC normalized, line endings are unified and trailing
// whitespace is dropped per line, so two generator replies that differ only
// in formatting noise hash identically.
func ProgramHash(source string) string {
	return hashWithDomain(DomainProgram, []byte(normalizeSource(source)))
}

// BatchHash computes an identity for an ordered list of seed paths.
// Used to name cached profiles of a fused batch.
func BatchHash(paths []string) string {
	return hashWithDomain(DomainBatch, []byte(strings.Join(paths, "\x00")))
}

func normalizeSource(source string) string {
	s := norm.NFC.String(source)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
