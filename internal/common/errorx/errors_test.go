package errorx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesSentinelByKind(t *testing.T) {
	err := New(KindRateLimitExceeded, "ratelimit.execute", "acme", errors.New("budget empty"))
	wrapped := fmt.Errorf("fetch city 804: %w", err)

	assert.ErrorIs(t, wrapped, ErrRateLimitExceeded)
	assert.NotErrorIs(t, wrapped, ErrUpstreamTimeout)
	assert.ErrorIs(t, wrapped, &Error{Kind: KindRateLimitExceeded, Tenant: "acme"})
	assert.NotErrorIs(t, wrapped, &Error{Kind: KindRateLimitExceeded, Tenant: "globex"})
	assert.Equal(t, KindRateLimitExceeded, KindOf(wrapped))
}

func TestError_IsWalksNestedKinds(t *testing.T) {
	inner := New(KindUpstreamUnauthorized, "upstream.roster", "acme", nil)
	outer := New(KindCredentialRefresh, "credential.get", "acme", inner)

	assert.Equal(t, KindCredentialRefresh, KindOf(outer))
	assert.True(t, Is(outer, KindUpstreamUnauthorized))
	assert.False(t, Is(outer, KindUpstreamConflict))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := Newf(KindUpstreamConflict, "partner.assign", "acme", "phone %s already used", "+100")
	assert.Equal(t, "partner.assign: upstream_conflict (tenant acme): phone +100 already used", err.Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestToAPIError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{New(KindRateLimitExceeded, "op", "acme", nil), http.StatusTooManyRequests},
		{New(KindUpstreamConflict, "op", "acme", nil), http.StatusUnprocessableEntity},
		{New(KindCredentialRefresh, "op", "acme", nil), http.StatusBadGateway},
		{New(KindNotFound, "op", "", nil), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, ToAPIError(tc.err).HTTPStatus, tc.err.Error())
	}

	api := ToAPIError(New(KindRateLimitExceeded, "op", "acme", nil))
	assert.Equal(t, "acme", api.Details["tenant"])
	// templates are never mutated
	assert.Empty(t, apiErrors[KindRateLimitExceeded].Details)
}

func TestValidationError(t *testing.T) {
	err := ValidationError("pageSize", -1, "must be positive")
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "pageSize", err.Details["field"])
}
