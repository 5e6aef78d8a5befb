package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderMessageID        = "svix-id"
	HeaderMessageTimestamp = "svix-timestamp"
	HeaderMessageSignature = "svix-signature"

	secretPrefix              = "whsec_"
	signatureVersion          = "v1"
	defaultTimestampTolerance = 5 * time.Minute
)

var (
	ErrMissingSigningSecret      = errors.New("webhooks: signing secret required")
	ErrInvalidSigningSecret      = errors.New("webhooks: signing secret is not valid base64")
	ErrMissingSignatureHeaders   = errors.New("webhooks: signature headers missing")
	ErrInvalidSignatureTimestamp = errors.New("webhooks: invalid signature timestamp")
	ErrSignatureTimestampSkew    = errors.New("webhooks: signature timestamp outside tolerance")
	ErrSignatureMismatch         = errors.New("webhooks: no matching signature")
)

// SignatureVerifierConfig configures verification of provider-signed deliveries.
type SignatureVerifierConfig struct {
	// SigningSecret is the provider-issued secret, with or without the whsec_ prefix.
	SigningSecret string
	Tolerance     time.Duration
	Clock         func() time.Time
}

// SignatureVerifier checks HMAC-SHA256 signatures computed over id.timestamp.body.
type SignatureVerifier struct {
	key       []byte
	tolerance time.Duration
	clock     func() time.Time
}

// NewSignatureVerifier decodes the signing secret and returns a verifier.
func NewSignatureVerifier(cfg SignatureVerifierConfig) (*SignatureVerifier, error) {
	secret := strings.TrimPrefix(strings.TrimSpace(cfg.SigningSecret), secretPrefix)
	if secret == "" {
		return nil, ErrMissingSigningSecret
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningSecret, err)
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTimestampTolerance
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SignatureVerifier{
		key:       key,
		tolerance: tolerance,
		clock:     clock,
	}, nil
}

// Verify authenticates payload against the signature headers.
func (v *SignatureVerifier) Verify(payload []byte, headers http.Header) error {
	messageID := strings.TrimSpace(headers.Get(HeaderMessageID))
	rawTimestamp := strings.TrimSpace(headers.Get(HeaderMessageTimestamp))
	signatures := strings.TrimSpace(headers.Get(HeaderMessageSignature))
	if messageID == "" || rawTimestamp == "" || signatures == "" {
		return ErrMissingSignatureHeaders
	}

	seconds, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSignatureTimestamp, rawTimestamp)
	}
	timestamp := time.Unix(seconds, 0)
	now := v.clock()
	if timestamp.Before(now.Add(-v.tolerance)) || timestamp.After(now.Add(v.tolerance)) {
		return ErrSignatureTimestampSkew
	}

	expected := v.computeSignature(messageID, seconds, payload)
	for _, candidate := range strings.Fields(signatures) {
		version, encoded, found := strings.Cut(candidate, ",")
		if !found || version != signatureVersion {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign produces a signature header value for the given message.
func (v *SignatureVerifier) Sign(messageID string, timestamp time.Time, payload []byte) string {
	signature := v.computeSignature(messageID, timestamp.Unix(), payload)
	return signatureVersion + "," + base64.StdEncoding.EncodeToString(signature)
}

func (v *SignatureVerifier) computeSignature(messageID string, timestampSeconds int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(messageID))
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(timestampSeconds, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
