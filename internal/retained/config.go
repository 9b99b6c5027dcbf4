package retained

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	defaultDirPerm = 0o755
	backupDirName  = "backups"
)

type Config struct {
	DBPath string
	// BackupOnMigrate keeps a copy of the old database when the schema
	// version changes.
	BackupOnMigrate bool
}

func DefaultConfig(path string) Config {
	return Config{
		DBPath:          path,
		BackupOnMigrate: true,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}

	return nil
}
