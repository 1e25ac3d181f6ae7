package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

// QueuePolicy decides what happens to a trigger that exceeds the per agent
// concurrency ceiling.
type QueuePolicy string

const QUEUE_POLICY_QUEUE QueuePolicy = "queue"
const QUEUE_POLICY_REJECT QueuePolicy = "reject"

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type Config struct {
	HttpPort    int
	LogLevel    string
	StorageType StorageType
	RedisConfig RedisStorageConfig

	// execution engine
	ExecutorPoolSize      int
	ExecutorCapacity      int
	MaxConcurrentPerAgent int
	QueuePolicy           QueuePolicy
	StepTimeout           time.Duration
	MaxStepRetries        int
	RetryBackoff          time.Duration
	DispatchInterval      time.Duration

	// approvals
	ApprovalTTL   time.Duration
	SweepInterval time.Duration

	// audit trail
	AuditFile string

	// metrics
	DefaultWindowDays int
}

// Default returns the engine defaults used when no flag or config file
// overrides them.
func Default() Config {
	return Config{
		HttpPort:              8080,
		LogLevel:              "info",
		StorageType:           STORAGE_TYPE_INMEM,
		ExecutorPoolSize:      4,
		ExecutorCapacity:      512,
		MaxConcurrentPerAgent: 1,
		QueuePolicy:           QUEUE_POLICY_QUEUE,
		StepTimeout:           30 * time.Second,
		MaxStepRetries:        3,
		RetryBackoff:          time.Second,
		DispatchInterval:      time.Second,
		ApprovalTTL:           24 * time.Hour,
		SweepInterval:         time.Minute,
		DefaultWindowDays:     7,
	}
}
