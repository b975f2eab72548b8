package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// GitHubValidator verifies X-Hub-Signature-256 HMAC-SHA-256 webhook
// signatures against a shared secret.
type GitHubValidator struct {
	secret []byte
}

func NewGitHubValidator(secret string) *GitHubValidator {
	return &GitHubValidator{secret: []byte(secret)}
}

// ValidateSignature checks signature (the raw "X-Hub-Signature-256" header
// value, including its "sha256=" prefix) against body using a
// constant-time comparison.
func (v *GitHubValidator) ValidateSignature(body []byte, signature string) bool {
	if signature == "" || len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// GitLabValidator verifies the X-Gitlab-Token header against a configured
// shared token. System-hook tokens are optional: when unset, validation
// always fails closed rather than accepting any token.
type GitLabValidator struct {
	token        string
	tokenIsUnset bool
}

func NewGitLabValidator(token string) *GitLabValidator {
	return &GitLabValidator{token: token, tokenIsUnset: token == ""}
}

func (v *GitLabValidator) ValidateToken(token string) bool {
	if v.tokenIsUnset || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.token), []byte(token)) == 1
}
