package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// Header carries the hex HMAC-SHA256 of the raw webhook body.
const Header = "X-Callback-Signature"

// ErrInvalidSignature is returned when a notification cannot be authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type Mode string

const (
	ModeHMAC      Mode = "hmac"
	ModeChallenge Mode = "challenge"
	ModeDisabled  Mode = "disabled"
)

// Verifier authenticates inbound payment notifications. A configured secret selects HMAC mode;
// otherwise a configured challenge token selects the legacy mode; with neither, checks are skipped.
type Verifier struct {
	secret []byte
	token  string
}

func NewVerifier(secret, challengeToken string) *Verifier {
	v := &Verifier{}
	if secret != "" {
		v.secret = []byte(secret)
		return v
	}
	v.token = challengeToken
	return v
}

func (v *Verifier) Mode() Mode {
	switch {
	case len(v.secret) > 0:
		return ModeHMAC
	case v.token != "":
		return ModeChallenge
	default:
		return ModeDisabled
	}
}

// Verify checks body against the signature header value.
func (v *Verifier) Verify(body []byte, header string) error {
	switch v.Mode() {
	case ModeHMAC:
		return v.verifyHMAC(body, header)
	case ModeChallenge:
		return v.verifyChallenge(body)
	default:
		return nil
	}
}

// Sign returns the hex signature for body. Used by tests and local tooling.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) verifyHMAC(body []byte, header string) error {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) verifyChallenge(body []byte) error {
	var payload struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Challenge == "" {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(payload.Challenge), []byte(v.token)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
