package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

/* Partner callbacks are authenticated with an HMAC-SHA256 signature
 * over "{eventID}.{unix timestamp}.{payload}", carried in a
 * "v1,<base64>" header value. Verification uses constant-time
 * comparison and accepts multiple candidate signatures so partners can
 * rotate secrets without a flag day.
 */

const (
	// SecretPrefix marks base64-encoded shared webhook secrets
	SecretPrefix = "whsec_"

	// Version is the only signature scheme version accepted
	Version = "v1"

	minSecretBytes = 24
	maxSecretBytes = 64
)

// Secret is a partner's shared signing secret
type Secret struct {
	raw []byte
}

// ParseSecret decodes a whsec_-prefixed base64 secret
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}
	if len(raw) < minSecretBytes || len(raw) > maxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", minSecretBytes, maxSecretBytes)
	}
	return Secret{raw: raw}, nil
}

// Bytes returns the raw secret bytes
func (s Secret) Bytes() []byte {
	return s.raw
}

// Sign computes the v1 signature for a callback
func Sign(secret Secret, eventID string, timestamp time.Time, payload []byte) (string, error) {
	if strings.Contains(eventID, ".") {
		return "", fmt.Errorf("event id must not contain '.'")
	}
	signed := fmt.Sprintf("%s.%s.%s", eventID, strconv.FormatInt(timestamp.Unix(), 10), payload)
	mac := hmac.New(sha256.New, secret.raw)
	mac.Write([]byte(signed))
	return Version + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a single "v1,<base64>" signature value in constant time
func Verify(secret Secret, eventID string, timestamp time.Time, payload []byte, header string) (bool, error) {
	version, sig, ok := strings.Cut(header, ",")
	if !ok {
		return false, fmt.Errorf("invalid signature format, expected 'version,signature'")
	}
	if version != Version {
		return false, fmt.Errorf("unsupported signature version: %s", version)
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}

	want, err := Sign(secret, eventID, timestamp, payload)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}
	wantRaw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(want, Version+","))
	if err != nil {
		return false, fmt.Errorf("decoding calculated signature: %w", err)
	}

	return subtle.ConstantTimeCompare(got, wantRaw) == 1, nil
}

/* VerifyHeader checks a space-delimited signature header
 * ("v1,sig1 v1,sig2") against the secret; any valid signature in the
 * header is accepted, covering partner-side secret rotation.
 */
func VerifyHeader(secret Secret, eventID string, timestamp time.Time, payload []byte, header string) (bool, error) {
	if header == "" {
		return false, fmt.Errorf("signature header is empty")
	}
	for _, part := range strings.Fields(header) {
		valid, err := Verify(secret, eventID, timestamp, payload, part)
		if err != nil {
			continue
		}
		if valid {
			return true, nil
		}
	}
	return false, nil
}
