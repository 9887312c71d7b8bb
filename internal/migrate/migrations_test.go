package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gigledger/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	migrations, err := loadMigrations()
	require.NoError(t, err)
	v, err := Version(conn)
	require.NoError(t, err)
	require.Equal(t, migrations[len(migrations)-1].Version, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('profiles','gigs','messages','xp','rewards','applications','invitations','reviews','activity','sync_runs')`).Scan(&n))
	require.Equal(t, 10, n)
}
