// Package config loads daemon configuration from environment
// variables, following the teacher's plain getEnv/getEnvAsInt style
// rather than a flags/viper library — there is no config file format
// in scope, only env vars with defaults (spec.md §6).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in spec.md §6, one field per
// environment input, grouped by owning component.
type Config struct {
	// Server / store
	ServerPort            string
	DBHost                string
	DBPort                string
	DBUser                string
	DBPassword            string
	DBName                string
	DBSSLMode             string
	DBMaxConnections      int
	DBMaxIdleConnections  int
	DBConnectionLifetime  int
	RedisHost             string
	RedisPort             string
	StoreQueueOnUnavailable bool

	// Peer directory
	PeerPingInterval   time.Duration
	PeerActiveHorizon  time.Duration
	PeerStaleTimeout   time.Duration
	BootstrapPeers     []string

	// Work credits
	SlotDuration   time.Duration
	EpochZero      time.Time
	WindowDays     int

	// Flags
	FlagRetention        time.Duration
	FlagSyncInterval     time.Duration
	MaxFlagsPerNode      int
	FlagEscalationLow    time.Duration
	FlagEscalationHigh   time.Duration

	// Pool
	MinPoolSize       int
	MaxPoolSize       int
	PoolSyncInterval  time.Duration
	RewardThreshold   float64

	// Governance
	VoteDuration         time.Duration
	DiscussionDuration   time.Duration
	MinQuorum            float64
	DelegateExpiry       time.Duration
	MaxActiveProposals   int
	GovernanceSweepInterval time.Duration

	// Registration
	RegistrationTimeout time.Duration
	MinRegistrationStake float64
	ChallengeValidity   time.Duration

	// PoOT
	PootChallengeValidity time.Duration
	PootProofCacheTTL     time.Duration
	MinTokenStake         float64
	MaxValidationAttempts int
	FraudWindow           time.Duration
	ChallengeComplexityBytes int

	// Shard
	ShardSize             int64
	ReplicationFactor     int
	MinStorageNodes       int
	MaxShardsPerNode      int
	HealthCheckInterval   time.Duration
	PerformanceWindow     time.Duration
	DegradedThreshold     int
	MaintenanceWindow     time.Duration
	BackupRedundancyFactor int
	IPFSAPIURL            string
	RebalanceMaxPerPass   int

	// Operator sync
	SyncHeartbeat       time.Duration
	OperatorTimeout     time.Duration
	ConflictResolutionTimeout time.Duration
	MaxSyncRetries      int
	CheckpointInterval  time.Duration
	OperationBatchSize  int

	// Payout
	PayoutThreshold float64
	PayoutFeePct    float64
	MinPayout       float64
	MaxPayout       float64
	PayoutBatchSize int
	MaxPayoutBatchAmount float64
	PayoutAdapterKind string
	PayoutProcessInterval time.Duration

	FabricMspID         string
	FabricCertPath      string
	FabricKeyPath       string
	FabricTLSCertPath   string
	FabricPeerEndpoint  string
	FabricGatewayPeer   string
	FabricChannelName   string
	FabricChaincodeName string

	// JWT / auth
	JWTSecret     string
	JWTIssuer     string
	JWTExpiration time.Duration

	// Shutdown
	ShutdownGracePeriod time.Duration

	NodeID      string
	Environment string
}

// Load reads the environment into a Config, applying the defaults
// named in spec.md §6.
func Load() *Config {
	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "postgres"),
		DBPassword:           getEnv("DB_PASSWORD", "postgres"),
		DBName:               getEnv("DB_NAME", "lucid_node"),
		DBSSLMode:            getEnv("DB_SSLMODE", "disable"),
		DBMaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 20),
		DBMaxIdleConnections: getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
		DBConnectionLifetime: getEnvAsInt("DB_CONNECTION_LIFETIME", 300),
		RedisHost:            getEnv("REDIS_HOST", "localhost"),
		RedisPort:            getEnv("REDIS_PORT", "6379"),
		StoreQueueOnUnavailable: getEnvAsBool("STORE_QUEUE_ON_UNAVAILABLE", false),

		PeerPingInterval:  getEnvAsDuration("PEER_PING_INTERVAL", 60*time.Second),
		PeerActiveHorizon: getEnvAsDuration("PEER_ACTIVE_HORIZON", 10*time.Minute),
		PeerStaleTimeout:  getEnvAsDuration("PEER_STALE_TIMEOUT", 24*time.Hour),
		BootstrapPeers:    getEnvAsStringSlice("BOOTSTRAP_PEERS", []string{}),

		SlotDuration: getEnvAsDuration("SLOT_DURATION", 120*time.Second),
		EpochZero:    getEnvAsTime("EPOCH_ZERO", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		WindowDays:   getEnvAsInt("WINDOW_DAYS", 30),

		FlagRetention:      getEnvAsDuration("FLAG_RETENTION", 30*24*time.Hour),
		FlagSyncInterval:   getEnvAsDuration("FLAG_SYNC_INTERVAL", 60*time.Second),
		MaxFlagsPerNode:    getEnvAsInt("MAX_FLAGS_PER_NODE", 100),
		FlagEscalationLow:  getEnvAsDuration("FLAG_ESCALATION_LOW", 2*time.Hour),
		FlagEscalationHigh: getEnvAsDuration("FLAG_ESCALATION_CRITICAL", 30*time.Minute),

		MinPoolSize:      getEnvAsInt("MIN_POOL_SIZE", 3),
		MaxPoolSize:      getEnvAsInt("MAX_POOL_SIZE", 50),
		PoolSyncInterval: getEnvAsDuration("POOL_SYNC_INTERVAL", 30*time.Second),
		RewardThreshold:  getEnvAsFloat("REWARD_THRESHOLD", 1.0),

		VoteDuration:       getEnvAsDuration("VOTE_DURATION", 168*time.Hour),
		DiscussionDuration: getEnvAsDuration("DISCUSSION_DURATION", 72*time.Hour),
		MinQuorum:          getEnvAsFloat("MIN_QUORUM", 0.33),
		DelegateExpiry:     getEnvAsDuration("DELEGATE_EXPIRY", 30*24*time.Hour),
		MaxActiveProposals: getEnvAsInt("MAX_ACTIVE_PROPOSALS", 5),
		GovernanceSweepInterval: getEnvAsDuration("GOVERNANCE_SWEEP_INTERVAL", 5*time.Minute),

		RegistrationTimeout:  getEnvAsDuration("REGISTRATION_TIMEOUT", 300*time.Second),
		MinRegistrationStake: getEnvAsFloat("MIN_REGISTRATION_STAKE", 100),
		ChallengeValidity:    getEnvAsDuration("CHALLENGE_VALIDITY", 120*time.Second),

		PootChallengeValidity:   getEnvAsDuration("POOT_CHALLENGE_VALIDITY", 15*time.Minute),
		PootProofCacheTTL:       getEnvAsDuration("POOT_PROOF_CACHE_TTL", 60*time.Minute),
		MinTokenStake:           getEnvAsFloat("MIN_TOKEN_STAKE", 100),
		MaxValidationAttempts:   getEnvAsInt("MAX_VALIDATION_ATTEMPTS", 3),
		FraudWindow:             getEnvAsDuration("FRAUD_WINDOW", 24*time.Hour),
		ChallengeComplexityBytes: getEnvAsInt("CHALLENGE_COMPLEXITY_BYTES", 32),

		ShardSize:              getEnvAsInt64("SHARD_SIZE", 64*1024*1024),
		ReplicationFactor:      getEnvAsInt("REPLICATION_FACTOR", 3),
		MinStorageNodes:        getEnvAsInt("MIN_STORAGE_NODES", 5),
		MaxShardsPerNode:       getEnvAsInt("MAX_SHARDS_PER_NODE", 1000),
		HealthCheckInterval:    getEnvAsDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
		PerformanceWindow:      getEnvAsDuration("PERFORMANCE_WINDOW", 24*time.Hour),
		DegradedThreshold:      getEnvAsInt("DEGRADED_THRESHOLD", 3),
		MaintenanceWindow:      getEnvAsDuration("MAINTENANCE_WINDOW", 2*time.Hour),
		BackupRedundancyFactor: getEnvAsInt("BACKUP_REDUNDANCY_FACTOR", 2),
		IPFSAPIURL:             getEnv("IPFS_API_URL", ""),
		RebalanceMaxPerPass:    getEnvAsInt("REBALANCE_MAX_PER_PASS", 10),

		SyncHeartbeat:             getEnvAsDuration("SYNC_HEARTBEAT", 30*time.Second),
		OperatorTimeout:           getEnvAsDuration("OPERATOR_TIMEOUT", 5*time.Minute),
		ConflictResolutionTimeout: getEnvAsDuration("CONFLICT_RESOLUTION_TIMEOUT", 60*time.Second),
		MaxSyncRetries:            getEnvAsInt("MAX_SYNC_RETRIES", 3),
		CheckpointInterval:        getEnvAsDuration("CHECKPOINT_INTERVAL", 15*time.Minute),
		OperationBatchSize:        getEnvAsInt("OPERATION_BATCH_SIZE", 100),

		PayoutThreshold:   getEnvAsFloat("PAYOUT_THRESHOLD", 10),
		PayoutFeePct:      getEnvAsFloat("PAYOUT_FEE_PCT", 1.0),
		MinPayout:         getEnvAsFloat("MIN_PAYOUT", 1),
		MaxPayout:         getEnvAsFloat("MAX_PAYOUT", 10000),
		PayoutBatchSize:   getEnvAsInt("PAYOUT_BATCH_SIZE", 50),
		MaxPayoutBatchAmount: getEnvAsFloat("MAX_PAYOUT_BATCH_AMOUNT", 100000),
		PayoutAdapterKind: getEnv("PAYOUT_ADAPTER_KIND", "fabric"),
		PayoutProcessInterval: getEnvAsDuration("PAYOUT_PROCESS_INTERVAL", 5*time.Minute),

		FabricMspID:         getEnv("FABRIC_MSP_ID", ""),
		FabricCertPath:      getEnv("FABRIC_CERT_PATH", ""),
		FabricKeyPath:       getEnv("FABRIC_KEY_PATH", ""),
		FabricTLSCertPath:   getEnv("FABRIC_TLS_CERT_PATH", ""),
		FabricPeerEndpoint:  getEnv("FABRIC_PEER_ENDPOINT", "localhost:7051"),
		FabricGatewayPeer:   getEnv("FABRIC_GATEWAY_PEER", "peer0.org1.example.com"),
		FabricChannelName:   getEnv("FABRIC_CHANNEL_NAME", "lucidchannel"),
		FabricChaincodeName: getEnv("FABRIC_CHAINCODE_NAME", "payoutcc"),

		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:     getEnv("JWT_ISSUER", "lucid-node-core"),
		JWTExpiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),

		ShutdownGracePeriod: getEnvAsDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		NodeID:      getEnv("NODE_ID", defaultNodeID()),
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

// defaultNodeID falls back to the host name when NODE_ID is unset,
// so a node restarting on the same machine keeps a stable identity
// without requiring an operator to set one explicitly.
func defaultNodeID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node-unknown"
	}
	return h
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvAsBool(key string, defaultValue bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvAsTime(key string, defaultValue time.Time) time.Time {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return defaultValue
	}
	return t
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
