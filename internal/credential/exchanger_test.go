package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/tenant"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*tenant.Registry, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	reg, err := tenant.NewRegistry([]config.TenantConfig{
		{ID: "acme", ClientID: "acme-client", KeyID: "k1", PrivateKey: string(keyPEM)},
	})
	require.NoError(t, err)
	return reg, key
}

func TestAssertionExchanger_Exchange(t *testing.T) {
	reg, key := newRegistry(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "acme-client", r.Form.Get("client_id"))
		assert.Equal(t, ClientAssertionType, r.Form.Get("client_assertion_type"))
		assert.Equal(t, "couriers.read", r.Form.Get("scope"))

		tok, err := jwt.ParseWithClaims(r.Form.Get("client_assertion"), &jwt.RegisteredClaims{},
			func(tok *jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("partner"))
		require.NoError(t, err)
		claims := tok.Claims.(*jwt.RegisteredClaims)
		assert.Equal(t, "acme-client", claims.Issuer)
		assert.Equal(t, "acme-client", claims.Subject)
		assert.NotEmpty(t, claims.ID)
		assert.Equal(t, "k1", tok.Header["kid"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"bearer-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ex := NewAssertionExchanger(config.CredentialConfig{
		TokenURL:     srv.URL,
		Audience:     "partner",
		Scopes:       []string{"couriers.read"},
		AssertionTTL: time.Minute,
	}, reg, srv.Client())

	tok, err := ex.Exchange(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "bearer-1", tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
}

func TestAssertionExchanger_DefaultTTLWithoutExpiresIn(t *testing.T) {
	reg, _ := newRegistry(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"bearer-2","token_type":"bearer"}`))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ex := NewAssertionExchanger(config.CredentialConfig{TokenURL: srv.URL, DefaultTokenTTL: 30 * time.Minute}, reg, srv.Client())
	ex.now = func() time.Time { return fixed }

	tok, err := ex.Exchange(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(30*time.Minute), tok.ExpiresAt)
}

func TestAssertionExchanger_Rejected(t *testing.T) {
	reg, _ := newRegistry(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	ex := NewAssertionExchanger(config.CredentialConfig{TokenURL: srv.URL}, reg, srv.Client())
	_, err := ex.Exchange(context.Background(), "acme")
	assert.ErrorIs(t, err, errorx.ErrCredentialRefresh)

	_, err = ex.Exchange(context.Background(), "unknown")
	assert.ErrorIs(t, err, errorx.ErrCredentialRefresh)
}
