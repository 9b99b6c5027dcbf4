package retained

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state", "retained.db")
	s, err := Open(DefaultConfig(path), logger.Default())
	require.NoError(t, err)

	return s, path
}

func TestSaveLoad(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	require.NoError(t, s.Save("dev/probe/status", []byte(`{"state":"running"}`)))
	require.NoError(t, s.Save("dev/probe/cfg", []byte(`{"logs_enabled":false}`)))
	require.NoError(t, s.Save("dev/probe/status", []byte(`{"state":"stopped"}`)))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"dev/probe/status": []byte(`{"state":"stopped"}`),
		"dev/probe/cfg":    []byte(`{"logs_enabled":false}`),
	}, got)
}

func TestReopenKeepsPayloads(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Save("dev/probe/state", []byte(`{"values":{"load":0.5}}`)))
	require.NoError(t, s.Close())

	s2, err := Open(DefaultConfig(path), logger.Default())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"values":{"load":0.5}}`), got["dev/probe/state"])
}

func TestSchemaMismatchRecreates(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Save("dev/probe/state", []byte(`{}`)))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s2, err := Open(DefaultConfig(path), logger.Default())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.Empty(t, got)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(path), backupDirName))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Save("x", []byte(`{}`))
	assert.True(t, errors.HasCode(err, ErrClosed))
}

func TestInvalidPath(t *testing.T) {
	_, err := Open(Config{}, logger.Default())
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))
}
