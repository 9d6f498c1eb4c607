// Package tenant holds the tenants sharing one riderwatch process
package tenant

import (
	"crypto/rsa"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"

	"github.com/golang-jwt/jwt/v5"
)

// Tenant is one customer organization with its own partner credentials
type Tenant struct {
	ID       string
	ClientID string
	KeyID    string
	Key      *rsa.PrivateKey
	Cities   []int64
	// RateLimit is nil when the tenant uses the global budget
	RateLimit *config.RateLimitConfig
}

// MonitorsCity reports whether the city belongs to the tenant
func (t *Tenant) MonitorsCity(city int64) bool {
	return slices.Contains(t.Cities, city)
}

// Registry is an immutable set of tenants
type Registry struct {
	tenants map[string]*Tenant
	ids     []string
}

// NewRegistry loads every tenant and parses its signing key
func NewRegistry(cfgs []config.TenantConfig) (*Registry, error) {
	r := &Registry{tenants: make(map[string]*Tenant, len(cfgs))}
	for _, c := range cfgs {
		key, err := loadKey(c)
		if err != nil {
			return nil, errorx.New(errorx.KindConfiguration, "tenant.load", c.ID, err)
		}
		r.tenants[c.ID] = &Tenant{
			ID:        c.ID,
			ClientID:  c.ClientID,
			KeyID:     c.KeyID,
			Key:       key,
			Cities:    slices.Clone(c.Cities),
			RateLimit: c.RateLimit,
		}
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func loadKey(c config.TenantConfig) (*rsa.PrivateKey, error) {
	pemData := []byte(c.PrivateKey)
	if len(pemData) == 0 {
		if c.PrivateKeyFile == "" {
			return nil, fmt.Errorf("private_key or private_key_file is required")
		}
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		pemData = data
	}
	return jwt.ParseRSAPrivateKeyFromPEM(pemData)
}

// Get returns a tenant by id
func (r *Registry) Get(id string) (*Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, errorx.Newf(errorx.KindNotFound, "tenant.get", id, "unknown tenant")
	}
	return t, nil
}

// IDs returns all tenant ids in sorted order
func (r *Registry) IDs() []string {
	return slices.Clone(r.ids)
}

// BudgetOverrides returns the tenants that carry their own rate budget
func (r *Registry) BudgetOverrides() map[string]config.RateLimitConfig {
	out := make(map[string]config.RateLimitConfig)
	for id, t := range r.tenants {
		if t.RateLimit != nil {
			out[id] = *t.RateLimit
		}
	}
	return out
}
