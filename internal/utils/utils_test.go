package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	for _, k := range []string{"PG_HOST", "PG_PORT", "PG_USER", "PG_PASSWORD", "PG_DB", "PG_SSLMODE"} {
		t.Setenv(k, "")
	}
	require.Equal(t, "postgres://postgres@localhost:5432/mapit?sslmode=disable", BuildPostgresDSNFromEnv())

	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_DB", "postcodes")
	require.Equal(t, "postgres://postgres:secret@db:5432/postcodes?sslmode=disable", BuildPostgresDSNFromEnv())
}

func TestOpenRedisFromEnvUnset(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	require.Nil(t, OpenRedisFromEnv())
}

func TestOpenRedisFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "127.0.0.1")
	t.Setenv("REDIS_DB", "3")
	rc := OpenRedisFromEnv()
	require.NotNil(t, rc)
	require.Equal(t, 3, rc.Options().DB)
	require.Equal(t, "127.0.0.1:6379", rc.Options().Addr)
	require.NoError(t, rc.Close())
}
