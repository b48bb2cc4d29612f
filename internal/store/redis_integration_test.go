//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisKVSuite struct {
	suite.Suite
	container testcontainers.Container
	kv        *Redis
}

func TestRedisKVSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisKVSuite))
}

func (s *RedisKVSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	kv, err := OpenRedis(ctx, RedisOptions{URL: url, KeyPrefix: "attend:"})
	s.Require().NoError(err)
	s.kv = kv
}

func (s *RedisKVSuite) TearDownSuite() {
	if s.kv != nil {
		_ = s.kv.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisKVSuite) SetupTest() {
	s.Require().NoError(s.kv.client.FlushAll(context.Background()).Err())
}

func (s *RedisKVSuite) TestVersionedWrites() {
	ctx := context.Background()

	v, err := s.kv.Set(ctx, "status::p1", []byte(`{"a":1}`), 0)
	s.Require().NoError(err)
	s.Equal(int64(1), v)

	_, err = s.kv.Set(ctx, "status::p1", []byte(`{"a":2}`), 0)
	s.ErrorIs(err, ErrVersionConflict)

	v, err = s.kv.Set(ctx, "status::p1", []byte(`{"a":2}`), 1)
	s.Require().NoError(err)
	s.Equal(int64(2), v)

	got, err := s.kv.Get(ctx, "status::p1")
	s.Require().NoError(err)
	s.Equal(`{"a":2}`, string(got.Data))
	s.Equal(int64(2), got.Version)
}

func (s *RedisKVSuite) TestKeysStripPrefix() {
	ctx := context.Background()
	for _, k := range []string{"status::b", "status::a", "draft::x"} {
		_, err := s.kv.Set(ctx, k, []byte("{}"), AnyVersion)
		s.Require().NoError(err)
	}

	keys, err := s.kv.Keys(ctx, StatusKeyPrefix)
	s.Require().NoError(err)
	s.Equal([]string{"status::a", "status::b"}, keys)

	raw, err := s.kv.client.Exists(ctx, "attend:draft::x").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), raw)
}

func (s *RedisKVSuite) TestGetMissing() {
	_, err := s.kv.Get(context.Background(), "status::ghost")
	s.ErrorIs(err, ErrNotFound)
}

func TestOpenRedis_RequiresURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisOptions{})
	require.Error(t, err)
}
