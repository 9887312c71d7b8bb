package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPath(t *testing.T) {
	assert.Equal(t, filepath.Join("ws", ".gigledger", "gigledger.db"), Config{Workspace: "ws"}.Path())
	assert.Equal(t, filepath.Join("ws", "data", "x.db"), Config{Workspace: "ws", File: "data/x.db"}.Path())
	assert.Equal(t, "/var/lib/x.db", Config{Workspace: "ws", File: "/var/lib/x.db"}.Path())
}

func TestOpenAppliesPragmas(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws, File: "state/test.db", BusyTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer conn.Close()

	_, err = os.Stat(filepath.Join(ws, "state", "test.db"))
	require.NoError(t, err)

	var mode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
	var busy int
	require.NoError(t, conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busy))
	assert.Equal(t, 2000, busy)
}
