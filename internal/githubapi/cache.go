package githubapi

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const anonymousFingerprint = "anonymous"

// tokenFingerprint identifies an authentication context without keeping
// the token itself in cache keys.
func tokenFingerprint(token string) string {
	if token == "" {
		return anonymousFingerprint
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// cacheKey derives the response cache key for url under token.
func cacheKey(url, token string) string {
	sum := blake2b.Sum256([]byte(url + "\x00" + tokenFingerprint(token)))
	return hex.EncodeToString(sum[:])
}
