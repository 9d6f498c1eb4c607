package credential

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/tenant"
	"github.com/amoylab/riderwatch/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientAssertionType is the RFC 7523 assertion type
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// AssertionExchanger signs a short-lived RS256 client assertion with the
// tenant key and exchanges it for a bearer token (client credentials grant).
type AssertionExchanger struct {
	cfg     config.CredentialConfig
	tenants *tenant.Registry
	client  *http.Client
	now     func() time.Time
}

var _ Exchanger = (*AssertionExchanger)(nil)

// NewAssertionExchanger creates an exchanger. A nil client uses http.DefaultClient.
func NewAssertionExchanger(cfg config.CredentialConfig, tenants *tenant.Registry, client *http.Client) *AssertionExchanger {
	return &AssertionExchanger{cfg: cfg, tenants: tenants, client: client, now: time.Now}
}

// Exchange implements Exchanger
func (e *AssertionExchanger) Exchange(ctx context.Context, tenantID string) (*Token, error) {
	const op = "credential.exchange"
	t, err := e.tenants.Get(tenantID)
	if err != nil {
		return nil, errorx.New(errorx.KindCredentialRefresh, op, tenantID, err)
	}
	assertion, err := e.sign(t)
	if err != nil {
		return nil, errorx.New(errorx.KindCredentialRefresh, op, tenantID, err)
	}

	cc := clientcredentials.Config{
		ClientID:  t.ClientID,
		TokenURL:  e.cfg.TokenURL,
		Scopes:    e.cfg.Scopes,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {ClientAssertionType},
			"client_assertion":      {assertion},
		},
	}
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, errorx.New(errorx.KindCredentialRefresh, op, tenantID, err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = e.now().Add(e.cfg.DefaultTokenTTL)
	}
	return &Token{Value: tok.AccessToken, ExpiresAt: expiresAt}, nil
}

func (e *AssertionExchanger) sign(t *tenant.Tenant) (string, error) {
	now := e.now()
	ttl := e.cfg.AssertionTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	audience := utils.FirstNonEmpty(e.cfg.Audience, e.cfg.TokenURL)
	claims := jwt.RegisteredClaims{
		Issuer:    t.ClientID,
		Subject:   t.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if t.KeyID != "" {
		token.Header["kid"] = t.KeyID
	}
	return token.SignedString(t.Key)
}
