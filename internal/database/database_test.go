package database

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis("redis://"+server.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
}

func TestConnectRedisRejectsBadInput(t *testing.T) {
	_, err := ConnectRedis("", time.Second)
	require.Error(t, err)

	_, err = ConnectRedis("not a url", time.Second)
	require.Error(t, err)
}

func TestConnectPostgresRequiresDSN(t *testing.T) {
	_, err := ConnectPostgres("", time.Second)
	require.Error(t, err)
}
