package line_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hanamura/linebridge-backend/internal/line"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"a":1}`)

	assert.True(t, line.VerifySignature(body, sign(secret, body), secret))
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"a":1}`)
	signature := sign(secret, body)

	// Flipping any single byte must break verification.
	for i := range body {
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[i] ^= 0x01
		assert.False(t, line.VerifySignature(tampered, signature, secret),
			"byte %d flipped but signature still verified", i)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.False(t, line.VerifySignature(body, sign("secret-a", body), "secret-b"))
}

func TestVerifySignatureMustUseRawBytes(t *testing.T) {
	secret := "channel-secret"
	raw := []byte(`{"a": 1}`) // note the space: re-serialized JSON would drop it

	assert.True(t, line.VerifySignature(raw, sign(secret, raw), secret))
	assert.False(t, line.VerifySignature([]byte(`{"a":1}`), sign(secret, raw), secret))
}
