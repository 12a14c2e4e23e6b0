package logsplit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("ParsesFile", func(t *testing.T) {
		path := filepath.Join(dir, "full.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: mongodb://example.com:27017
  db: logs
  use_transactions: true
split:
  max_chunk_size: 1024
  progress_interval: 50
  dry_run: true
log_path: /tmp/logsplit.log
`), 0600))

		settings, err := NewSettings(path)
		require.NoError(t, err)
		assert.Equal(t, &Settings{
			Database: DBSettings{Url: "mongodb://example.com:27017", DB: "logs", UseTransactions: true},
			Split:    SplitSettings{MaxChunkSize: 1024, ProgressInterval: 50, DryRun: true},
			LogPath:  "/tmp/logsplit.log",
		}, settings)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := NewSettings(filepath.Join(dir, "missing.yml"))
		assert.Error(t, err)
	})
	t.Run("InvalidYAML", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yml")
		require.NoError(t, os.WriteFile(path, []byte("database: [unterminated"), 0600))
		_, err := NewSettings(path)
		assert.Error(t, err)
	})
}

func TestSettingsValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		settings := &Settings{}
		require.NoError(t, settings.Validate())
		assert.Equal(t, DefaultDatabaseURL, settings.Database.Url)
		assert.Equal(t, DefaultDatabaseName, settings.Database.DB)
		assert.Equal(t, DefaultMaxChunkSize, settings.Split.MaxChunkSize)
		assert.Equal(t, DefaultProgressInterval, settings.Split.ProgressInterval)
	})
	t.Run("KeepsValues", func(t *testing.T) {
		settings := &Settings{Split: SplitSettings{MaxChunkSize: 10, ProgressInterval: 2}}
		require.NoError(t, settings.Validate())
		assert.Equal(t, 10, settings.Split.MaxChunkSize)
		assert.Equal(t, 2, settings.Split.ProgressInterval)
	})
	t.Run("NegativeSize", func(t *testing.T) {
		settings := &Settings{Split: SplitSettings{MaxChunkSize: -1}}
		assert.Error(t, settings.Validate())
	})
	t.Run("NegativeInterval", func(t *testing.T) {
		settings := &Settings{Split: SplitSettings{ProgressInterval: -1}}
		assert.Error(t, settings.Validate())
	})
}
