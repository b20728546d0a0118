// Package authtest issues RS256 tokens and publishes their key set for tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	TenantID = "00000000-0000-0000-0000-00000000000a"
	ClientID = "00000000-0000-0000-0000-00000000000b"

	// IssuerV1 and AudienceV1 are the pair of API scope tokens.
	IssuerV1   = "https://sts.windows.net/" + TenantID + "/"
	AudienceV1 = "api://" + ClientID

	// IssuerV2 and AudienceV2 are the pair of App Service tokens.
	IssuerV2   = "https://login.microsoftonline.com/" + TenantID + "/v2.0"
	AudienceV2 = ClientID
)

// Issuer signs tokens with a generated RSA key served from an httptest JWKS endpoint.
type Issuer struct {
	t    testing.TB
	Kid  string
	Key  *rsa.PrivateKey
	srv  *httptest.Server
	hits atomic.Int64
	down atomic.Bool
}

// NewIssuer generates a key and starts the JWKS endpoint. It is closed on test cleanup.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	iss := &Issuer{t: t, Kid: "test-key", Key: key}
	iss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iss.hits.Add(1)
		if iss.down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"kid": iss.Kid,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(iss.srv.Close)
	return iss
}

// URL returns the JWKS endpoint.
func (i *Issuer) URL() string {
	return i.srv.URL
}

// Hits returns how many times the key set was fetched.
func (i *Issuer) Hits() int {
	return int(i.hits.Load())
}

// SetDown makes the JWKS endpoint answer 503 while down is true.
func (i *Issuer) SetDown(down bool) {
	i.down.Store(down)
}

// Claims returns valid claims for issuer and audience with the given roles.
func Claims(issuer, audience string, roles ...string) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss":  issuer,
		"aud":  audience,
		"iat":  now.Unix(),
		"nbf":  now.Add(-time.Minute).Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"name": "Test User",
		"oid":  "11111111-1111-1111-1111-111111111111",
	}
	if roles != nil {
		c["roles"] = roles
	}
	return c
}

// Token signs claims with the issuer's key.
func (i *Issuer) Token(claims jwt.MapClaims) string {
	i.t.Helper()
	return i.TokenWithKid(i.Kid, claims)
}

// TokenWithKid signs claims with the issuer's key under the given kid header.
func (i *Issuer) TokenWithKid(kid string, claims jwt.MapClaims) string {
	i.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(i.Key)
	require.NoError(i.t, err)
	return s
}

// Header returns an Authorization header carrying a token for claims.
func (i *Issuer) Header(claims jwt.MapClaims) http.Header {
	i.t.Helper()
	return http.Header{"Authorization": {"Bearer " + i.Token(claims)}}
}
