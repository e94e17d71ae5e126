package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-kalah-relay/internal/migrations"
	"github.com/koopa0/system-design/14-kalah-relay/internal/testutils"
)

// TestMigrator_UpDown 遷移可重複執行且可回滾
func TestMigrator_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// SetupPostgres 已執行過一次 Up
	pool, dsn := testutils.SetupPostgres(t)
	ctx := context.Background()

	exists := func() bool {
		var ok bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'leaderboard_entries')`,
		).Scan(&ok)
		require.NoError(t, err)
		return ok
	}
	require.True(t, exists())

	migrator, err := migrations.New(dsn, testutils.Logger())
	require.NoError(t, err)
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// 已是最新版本時 Up 不報錯
	require.NoError(t, migrator.Up())

	require.NoError(t, migrator.Down())
	assert.False(t, exists())

	require.NoError(t, migrator.Up())
	assert.True(t, exists())
}
