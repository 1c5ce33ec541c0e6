package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "davsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/davsync/davsync.db
log_level: debug
accounts:
  - name: alice
    username: alice
    password: secret
    carddav: https://dav.example.com/
    caldav: https://dav.example.com/
  - name: work
    username: a.smith
    password: hunter2
    caldav: https://cal.example.net/dav/
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/davsync/davsync.db", cfg.Database)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.Len(t, cfg.Accounts, 2)

	work := cfg.Account("work")
	require.NotNil(t, work)
	assert.Empty(t, work.CardDAV)
	assert.Equal(t, "https://cal.example.net/dav/", work.CalDAV)

	assert.Nil(t, cfg.Account("missing"))
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: alice
    username: alice
    password: secret
    carddav: https://dav.example.com/
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "davsync.db", cfg.Database)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no accounts", content: "database: x.db\n"},
		{
			name: "account without name",
			content: `
accounts:
  - username: alice
    password: secret
    carddav: https://dav.example.com/
`,
		},
		{
			name: "duplicate account names",
			content: `
accounts:
  - name: alice
    carddav: https://dav.example.com/
  - name: alice
    caldav: https://dav.example.com/
`,
		},
		{
			name: "account without URLs",
			content: `
accounts:
  - name: alice
    username: alice
    password: secret
`,
		},
		{
			name: "non-http URL",
			content: `
accounts:
  - name: alice
    carddav: ftp://dav.example.com/
`,
		},
		{
			name: "unknown log level",
			content: `
log_level: loud
accounts:
  - name: alice
    carddav: https://dav.example.com/
`,
		},
		{name: "invalid yaml", content: "accounts: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
