package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signatureScheme = "sha256="

// VerifySignature checks that body was signed with secret, comparing against
// the provided X-Hub-Signature-256 value. Comparison uses constant-time
// equality to prevent timing side-channel attacks.
//
// An empty secret disables verification and returns true; the caller is
// expected to have warned loudly at startup about that configuration.
// Any computation or decoding problem is treated as a verification failure,
// never an error.
func VerifySignature(body []byte, provided, secret string) bool {
	if secret == "" {
		return true
	}
	if len(provided) <= len(signatureScheme) || provided[:len(signatureScheme)] != signatureScheme {
		return false
	}

	got, err := hex.DecodeString(provided[len(signatureScheme):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignBody computes the signature header value for body under secret.
// Used by tests and local tooling to produce valid deliveries.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signatureScheme + hex.EncodeToString(mac.Sum(nil))
}
