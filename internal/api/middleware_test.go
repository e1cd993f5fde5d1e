package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKid = "kid_1"

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// jwksServer serves the public half of key as a JWKS document and counts fetches.
func jwksServer(t *testing.T, key *rsa.PrivateKey, fetches *int) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*fetches++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{
				{"kid": testKid, "kty": "RSA", "use": "sig", "n": n, "e": e},
			},
		})
	}))
}

func signedToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func runAuthed(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user_clerk_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestClerkAuthMiddleware_FetchesJWKSOnce(t *testing.T) {
	key := newSigningKey(t)
	fetches := 0
	server := jwksServer(t, key, &fetches)
	defer server.Close()

	var gotSub string
	handler := ClerkAuthMiddleware(AuthConfig{JWKSURL: server.URL})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSub, _ = GetClerkUserID(r.Context())
		}))

	token := signedToken(t, key, baseClaims())
	for i := 0; i < 3; i++ {
		if rr := runAuthed(handler, token); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}

	if fetches != 1 {
		t.Fatalf("expected one JWKS fetch across requests, got %d", fetches)
	}
	if gotSub != "user_clerk_1" {
		t.Fatalf("expected subject in context, got %q", gotSub)
	}
}

func TestClerkAuthMiddleware_EnforcesConfiguredAudienceAndIssuer(t *testing.T) {
	key := newSigningKey(t)
	fetches := 0
	server := jwksServer(t, key, &fetches)
	defer server.Close()

	handler := ClerkAuthMiddleware(AuthConfig{
		JWKSURL:  server.URL,
		Audience: "payments-api",
		Issuer:   "https://clerk.example.com",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name string
		aud  string
		iss  string
		want int
	}{
		{"matching claims", "payments-api", "https://clerk.example.com", http.StatusOK},
		{"wrong audience", "other-api", "https://clerk.example.com", http.StatusUnauthorized},
		{"wrong issuer", "payments-api", "https://evil.example.com", http.StatusUnauthorized},
		{"missing audience", "", "https://clerk.example.com", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			if tt.aud != "" {
				claims["aud"] = tt.aud
			}
			claims["iss"] = tt.iss

			rr := runAuthed(handler, signedToken(t, key, claims))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestClerkAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	handler := ClerkAuthMiddleware(AuthConfig{JWKSURL: "http://127.0.0.1:0"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if rr := runAuthed(handler, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed header, got %d", rr.Code)
	}
}
