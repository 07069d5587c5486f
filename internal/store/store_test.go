package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLKeepsExistingToken", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?authToken=abc",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=abc", dsn)
	})

	t.Run("PlainPathCreatesDirectory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "pcroast.db")

		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
		require.NoError(t, err)
		require.Equal(t, "file:"+path, dsn)
		require.DirExists(t, filepath.Join(dir, "nested"))
	})

	t.Run("PathMissing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestRateLimitQueryValidate(t *testing.T) {
	require.Error(t, RateLimitQuery{}.Validate())
	require.NoError(t, RateLimitQuery{All: true}.Validate())
	require.NoError(t, RateLimitQuery{Key: "203.0.113.7"}.Validate())
	require.NoError(t, RateLimitQuery{Prefix: "203.0."}.Validate())

	where, args, err := RateLimitQuery{Prefix: "10."}.whereClause()
	require.NoError(t, err)
	require.Equal(t, "WHERE key LIKE ?", where)
	require.Equal(t, []any{"10.%"}, args)
}
