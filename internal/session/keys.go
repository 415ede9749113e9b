package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	preshareKeyPrefix   = "amb_pk_"
	sessionTokenPrefix  = "amb_st_"
	adminKeyPrefix      = "amb_ak_"
	presharedKeyBodyLen = 48 // URL-safe base64 chars
	adminKeyBodyMinLen  = 16
	keyPrefixLen        = 8
)

// Argon2id parameters: m=19456 KiB, t=2, p=1.
const (
	argonMemoryKiB  = 19456
	argonIterations = 2
	argonThreads    = 1
	argonKeyLen     = 32
)

// ParsePresharedKey validates the "amb_pk_" + 48 URL-safe-base64-char
// format and returns the first 8 chars of the body as the key_prefix.
func ParsePresharedKey(raw string) (keyPrefix string, ok bool) {
	if !strings.HasPrefix(raw, preshareKeyPrefix) {
		return "", false
	}
	body := strings.TrimPrefix(raw, preshareKeyPrefix)
	if len(body) != presharedKeyBodyLen {
		return "", false
	}
	if !isURLSafeBase64(body) {
		return "", false
	}
	return body[:keyPrefixLen], true
}

// ParseAdminKey validates the "amb_ak_" + URL-safe-base64 admin key
// format. Admin keys are few and verified against every stored hash, so
// no prefix index is extracted.
func ParseAdminKey(raw string) bool {
	if !strings.HasPrefix(raw, adminKeyPrefix) {
		return false
	}
	body := strings.TrimPrefix(raw, adminKeyPrefix)
	if len(body) < adminKeyBodyMinLen {
		return false
	}
	return isURLSafeBase64(body)
}

func isURLSafeBase64(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// HashKey produces an Argon2id hash of a preshared/admin key for storage.
// The salt is embedded in the returned encoded form.
func HashKey(key string, salt []byte) string {
	sum := argon2.IDKey([]byte(key), salt, argonIterations, argonMemoryKiB, argonThreads, argonKeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum)
}

// VerifyKey checks key against an encoded hash produced by HashKey, in
// constant time.
func VerifyKey(key, encoded string) bool {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(key), salt, argonIterations, argonMemoryKiB, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IssueToken computes the session token:
// "amb_st_" + base64url(HMAC-SHA256(secret, session_id || hex(nonce))).
// It returns the token to hand to the caller and the hex token_hash to
// store.
func IssueToken(secret []byte, sessionID string, nonce []byte) (token string, tokenHash string) {
	mac := computeHMAC(secret, sessionID, nonce)
	token = sessionTokenPrefix + base64.RawURLEncoding.EncodeToString(mac)
	tokenHash = hex.EncodeToString(mac)
	return token, tokenHash
}

func computeHMAC(secret []byte, sessionID string, nonce []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(sessionID))
	h.Write([]byte(hex.EncodeToString(nonce)))
	return h.Sum(nil)
}

// ParseSessionToken validates the "amb_st_" + base64url body format,
// decoding with a padding fix.
func ParseSessionToken(raw string) (mac []byte, ok bool) {
	if !strings.HasPrefix(raw, sessionTokenPrefix) {
		return nil, false
	}
	body := strings.TrimPrefix(raw, sessionTokenPrefix)
	// Fix padding: RawURLEncoding expects no padding, but tolerate callers
	// that kept it.
	body = strings.TrimRight(body, "=")
	decoded, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// VerifyTokenMAC recomputes the HMAC from (sessionID, nonce) and compares
// it to the decoded token MAC in constant time.
func VerifyTokenMAC(secret []byte, sessionID string, nonce []byte, tokenMAC []byte) bool {
	expected := computeHMAC(secret, sessionID, nonce)
	return subtle.ConstantTimeCompare(expected, tokenMAC) == 1
}
