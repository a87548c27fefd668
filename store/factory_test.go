package store_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetesla51/kvshape/store"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	port, err := strconv.ParseUint(mr.Port(), 10, 16)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts store.Options
		want any
	}{
		{"default", store.Options{}, &store.MemoryStore{}},
		{"memory", store.Options{Backend: store.BackendMemory}, &store.MemoryStore{}},
		{"redis", store.Options{
			Backend: store.BackendRedis,
			Redis:   store.RedisConfig{Host: mr.Host(), Port: uint16(port)},
		}, &store.RedisStore{}},
		{"bolt", store.Options{
			Backend: store.BackendBolt,
			Bolt:    store.BoltConfig{Path: filepath.Join(t.TempDir(), "kv.db")},
		}, &store.BoltStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := store.Open(ctx, tt.opts)
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opts store.Options
		msg  string
	}{
		{"unknown", store.Options{Backend: "etcd"}, "unsupported backend: etcd"},
		{"redis without host", store.Options{Backend: store.BackendRedis}, "redis host is required"},
		{"postgres without dsn", store.Options{Backend: store.BackendPostgres}, "postgres DSN is required"},
		{"bolt without path", store.Options{Backend: store.BackendBolt}, "bolt path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := store.Open(ctx, tt.opts)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
