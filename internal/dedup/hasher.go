package dedup

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
)

// Hasher fingerprints message content.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: strings.ToLower(algorithm)}
}

// Fingerprint hashes each part prefixed with its byte length, so ("a|b", "c")
// and ("a", "b|c") never collide.
func (h *Hasher) Fingerprint(parts ...string) string {
	var sum hash.Hash
	switch h.algorithm {
	case "md5":
		sum = md5.New()
	case "sha1":
		sum = sha1.New()
	default:
		sum = sha256.New()
	}

	for _, p := range parts {
		sum.Write([]byte(strconv.Itoa(len(p))))
		sum.Write([]byte{':'})
		sum.Write([]byte(p))
	}
	return hex.EncodeToString(sum.Sum(nil))
}
