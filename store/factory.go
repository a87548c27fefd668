package store

import (
	"context"
	"fmt"
)

// Backend names a storage backend.
type Backend string

const (
	// BackendMemory is the volatile in-process store.
	BackendMemory Backend = "memory"
	// BackendRedis talks to a Redis server.
	BackendRedis Backend = "redis"
	// BackendPostgres keeps entries in PostgreSQL tables.
	BackendPostgres Backend = "postgres"
	// BackendBolt keeps entries in a local bbolt file.
	BackendBolt Backend = "bolt"
)

// Options selects a backend and carries the configuration for each. Only the
// config matching Backend is used.
type Options struct {
	Backend  Backend
	Memory   MemoryConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Bolt     BoltConfig
}

// Open creates the Storage selected by opts.Backend. An empty backend means
// memory.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.Memory), nil

	case BackendRedis:
		if opts.Redis.Host == "" {
			return nil, fmt.Errorf("redis host is required when backend is '%s'", BackendRedis)
		}
		s, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendPostgres:
		if opts.Database.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is required when backend is '%s'", BackendPostgres)
		}
		s, err := NewDatabaseStore(ctx, opts.Database)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendBolt:
		if opts.Bolt.Path == "" {
			return nil, fmt.Errorf("bolt path is required when backend is '%s'", BackendBolt)
		}
		s, err := NewBoltStore(opts.Bolt)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s, %s, %s)",
			opts.Backend, BackendMemory, BackendRedis, BackendPostgres, BackendBolt)
	}
}
