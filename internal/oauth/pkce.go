package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// RFC 7636 section 4.1 verifier length bounds.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// VerifyPKCE checks an S256 code_verifier against the stored challenge:
// base64url(sha256(verifier)) must equal the challenge byte for byte.
func VerifyPKCE(verifier, challenge string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
