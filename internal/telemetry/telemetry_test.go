package telemetry

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_RingAndFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(3)
	m.Report(ctx, Event{Tenant: "acme", Endpoint: "roster"})
	m.Report(ctx, Event{Tenant: "globex", Endpoint: "roster"})
	m.Report(ctx, Event{Tenant: "acme", Endpoint: "city_couriers"})
	m.Report(ctx, Event{Tenant: "acme", Endpoint: "token"})

	all, err := m.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "token", all[0].Endpoint)
	assert.Equal(t, "globex", all[2].Tenant)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].At.IsZero())

	acme, err := m.Recent(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	one, err := m.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestRedisStore_ReportAndRecent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(zap.NewNop(), client, "rw:events", 100)
	s.Report(ctx, Event{Tenant: "acme", Endpoint: "roster", Reason: ReasonBudgetExhausted})
	s.Report(ctx, Event{Tenant: "globex", Endpoint: "assign_starting_points", Reason: ReasonUpstream429, StatusCode: 429})

	events, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "globex", events[0].Tenant)
	assert.Equal(t, 429, events[0].StatusCode)

	acme, err := s.Recent(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, ReasonBudgetExhausted, acme[0].Reason)
}

func TestRedisStore_EmptyStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	events, err := NewRedisStore(zap.NewNop(), client, "rw:none", 100).Recent(context.Background(), "", 5)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(zap.NewNop(), config.TelemetryConfig{Type: "memory", Capacity: 5}, nil)
	require.NoError(t, err)
	s.Report(context.Background(), Event{Tenant: "acme"})
	events, err := s.Recent(context.Background(), "acme", 5)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = NewStore(zap.NewNop(), config.TelemetryConfig{Type: "redis"}, nil)
	assert.Error(t, err)

	_, err = NewStore(zap.NewNop(), config.TelemetryConfig{Type: "kafka"}, nil)
	assert.Error(t, err)
}
