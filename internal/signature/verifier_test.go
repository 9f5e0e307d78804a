package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifier_HMAC(t *testing.T) {
	v := NewVerifier("s3cret", "ignored-token")
	assert.Equal(t, ModeHMAC, v.Mode())

	body := []byte(`{"order_id":"o1","status":"COMPLETE"}`)
	sig := v.Sign(body)

	assert.NoError(t, v.Verify(body, sig))
	assert.NoError(t, v.Verify(body, "sha256="+sig))

	tests := []struct {
		name   string
		body   []byte
		header string
	}{
		{"missing header", body, ""},
		{"not hex", body, "zz-not-hex"},
		{"tampered body", []byte(`{"order_id":"o1","status":"FAILED"}`), sig},
		{"other secret", body, NewVerifier("other", "").Sign(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.body, tt.header), ErrInvalidSignature)
		})
	}
}

func TestVerifier_Challenge(t *testing.T) {
	v := NewVerifier("", "tok-1")
	assert.Equal(t, ModeChallenge, v.Mode())

	assert.NoError(t, v.Verify([]byte(`{"challenge":"tok-1","status":"COMPLETE"}`), ""))
	assert.ErrorIs(t, v.Verify([]byte(`{"challenge":"tok-2"}`), ""), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify([]byte(`{"status":"COMPLETE"}`), ""), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify([]byte(`not json`), ""), ErrInvalidSignature)
}

func TestVerifier_Disabled(t *testing.T) {
	v := NewVerifier("", "")
	assert.Equal(t, ModeDisabled, v.Mode())
	assert.NoError(t, v.Verify([]byte(`anything`), ""))
}
