package address

import (
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalid is returned for anything that is not a 0x-prefixed 20-byte hex
// account identifier, or a mixed-case identifier with a bad EIP-55 checksum.
var ErrInvalid = errors.New("invalid ethereum address")

var pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Valid reports whether s is an acceptable account identifier.
func Valid(s string) bool {
	if !pattern.MatchString(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return Checksum(s) == s
}

// Normalize validates s and returns the canonical lowercase form used as a
// storage and channel key.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !Valid(s) {
		return "", ErrInvalid
	}
	return "0x" + strings.ToLower(s[2:]), nil
}

// Checksum renders s in EIP-55 mixed-case form. The input must already match
// the hex pattern.
func Checksum(s string) string {
	lower := strings.ToLower(s[2:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}
