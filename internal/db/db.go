package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".gigledger"
	defaultFile  = "gigledger.db"
)

type Config struct {
	Workspace string
	// File overrides the database location; relative paths resolve against
	// Workspace.
	File        string
	BusyTimeout time.Duration
}

// Path returns the database file the config points at.
func (c Config) Path() string {
	workspace := c.Workspace
	if workspace == "" {
		workspace = "."
	}
	switch {
	case c.File == "":
		return filepath.Join(workspace, workspaceDir, defaultFile)
	case filepath.IsAbs(c.File):
		return c.File
	default:
		return filepath.Join(workspace, c.File)
	}
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on and WAL journaling.
// SQLite serializes writers, so the pool is capped at a single connection
// and conditional updates see each other's commits.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	path := cfg.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return conn, nil
}
