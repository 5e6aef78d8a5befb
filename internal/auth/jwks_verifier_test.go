package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testJWKSIssuer = "https://clerk.gurukul.test"
	testJWKSKeyID  = "ins_test"
)

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	fetches    *atomic.Int32
}

func newJWKSFixture(t *testing.T) jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	publicKey := privateKey.PublicKey
	document := map[string]any{
		"keys": []any{
			map[string]string{
				"kty": "RSA",
				"alg": "RS256",
				"kid": testJWKSKeyID,
				"use": "sig",
				"n":   encodeBigInt(publicKey.N),
				"e":   encodeBigInt(big.NewInt(int64(publicKey.E))),
			},
		},
	}

	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(document)
	}))
	t.Cleanup(server.Close)

	return jwksFixture{privateKey: privateKey, server: server, fetches: fetches}
}

func (f jwksFixture) verifier(t *testing.T, clock func() time.Time) *JWKSVerifier {
	t.Helper()
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{
		JWKSURL:           f.server.URL + "/.well-known/jwks.json",
		AllowedIssuers:    []string{testJWKSIssuer},
		AuthorizedParties: []string{"https://app.gurukul.test"},
		HTTPClient:        f.server.Client(),
		Clock:             clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func (f jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testJWKSKeyID
	signed, err := token.SignedString(f.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestJWKSVerifierValidatesProviderSessionToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier := fixture.verifier(t, nil)

	signed := fixture.sign(t, jwt.MapClaims{
		"iss": testJWKSIssuer,
		"sub": "user_2abc",
		"sid": "sess_1",
		"azp": "https://app.gurukul.test",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	claims, err := verifier.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.ExternalID() != "user_2abc" || claims.SessionID != "sess_1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := verifier.Verify(context.Background(), signed); err != nil {
		t.Fatalf("second verification failed: %v", err)
	}
	if fixture.fetches.Load() != 1 {
		t.Fatalf("expected cached JWKS to be reused, got %d fetches", fixture.fetches.Load())
	}
}

func TestJWKSVerifierRejections(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier := fixture.verifier(t, nil)

	testCases := []struct {
		name    string
		claims  jwt.MapClaims
		wantErr error
	}{
		{
			name:    "untrusted issuer",
			claims:  jwt.MapClaims{"iss": "https://evil.test", "sub": "user_1", "exp": now.Add(time.Minute).Unix()},
			wantErr: errUntrustedIssuer,
		},
		{
			name:    "foreign authorized party",
			claims:  jwt.MapClaims{"iss": testJWKSIssuer, "sub": "user_1", "azp": "https://evil.test", "exp": now.Add(time.Minute).Unix()},
			wantErr: errUnauthorizedParty,
		},
		{
			name:    "expired",
			claims:  jwt.MapClaims{"iss": testJWKSIssuer, "sub": "user_1", "exp": now.Add(-time.Minute).Unix()},
			wantErr: ErrExpiredSessionToken,
		},
		{
			name:    "missing subject",
			claims:  jwt.MapClaims{"iss": testJWKSIssuer, "exp": now.Add(time.Minute).Unix()},
			wantErr: ErrMissingSessionSubject,
		},
		{
			name:    "missing expiry",
			claims:  jwt.MapClaims{"iss": testJWKSIssuer, "sub": "user_1"},
			wantErr: ErrInvalidSessionToken,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), fixture.sign(t, testCase.claims))
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestJWKSVerifierResolveCallerReadsSessionCookie(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier := fixture.verifier(t, nil)
	signed := fixture.sign(t, jwt.MapClaims{
		"iss": testJWKSIssuer,
		"sub": "user_cookie",
		"exp": now.Add(time.Minute).Unix(),
	})

	request := httptest.NewRequest(http.MethodPost, "/api/courses", http.NoBody)
	request.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: signed})

	externalID, err := verifier.ResolveCaller(request)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if externalID != "user_cookie" {
		t.Fatalf("unexpected external id: %s", externalID)
	}
}

func TestNewJWKSVerifierValidatesConfig(t *testing.T) {
	if _, err := NewJWKSVerifier(JWKSVerifierConfig{AllowedIssuers: []string{testJWKSIssuer}}); !errors.Is(err, ErrInvalidJWKSVerifierConfig) {
		t.Fatalf("expected config error for missing url, got %v", err)
	}
	if _, err := NewJWKSVerifier(JWKSVerifierConfig{JWKSURL: "https://example.test/jwks", AllowedIssuers: []string{" "}}); !errors.Is(err, ErrInvalidJWKSVerifierConfig) {
		t.Fatalf("expected config error for missing issuers, got %v", err)
	}
}

func encodeBigInt(value *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(value.Bytes())
}
