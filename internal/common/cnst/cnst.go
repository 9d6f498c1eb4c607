package cnst

const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
)

// Source names a partner data view
type Source string

const (
	// SourceLive is the near-real-time per-city feed
	SourceLive Source = "live"
	// SourceRoster is the full directory snapshot
	SourceRoster Source = "roster"
)

// Component names used to tag telemetry and logs
const (
	ComponentAggregation = "aggregation"
	ComponentBlock       = "block"
	ComponentCredential  = "credential"
	ComponentScheduler   = "scheduler"
)

// Partner endpoint names used to tag telemetry
const (
	EndpointCityCouriers   = "city_couriers"
	EndpointRoster         = "roster"
	EndpointStartingPoints = "starting_points"
	EndpointAssign         = "assign_starting_points"
	EndpointToken          = "token"
)
