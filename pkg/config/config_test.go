package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Indexer.Shards)
	assert.Equal(t, 1000, cfg.Search.MaxMatches)
	assert.Equal(t, 100, cfg.Analytics.BatchSize)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Empty(t, cfg.Participants)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
indexer:
  dataDir: /tmp/idx
  shards: 2
  saveInterval: 5s
participants:
  - name: code
    kind: fs
    root: /src
    extensions: [".go"]
    watch: true
  - name: inbox
    kind: memory
`)
	t.Setenv("SC_SCHEDULER_WORKERS", "7")
	t.Setenv("SC_SERVER_API_KEYS", "a,b")
	t.Setenv("SC_KAFKA_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx", cfg.Indexer.DataDir)
	assert.Equal(t, 2, cfg.Indexer.Shards)
	assert.Equal(t, 5*time.Second, cfg.Indexer.SaveInterval)
	assert.Equal(t, 7, cfg.Scheduler.Workers)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
	assert.True(t, cfg.Kafka.Enabled)
	require.Len(t, cfg.Participants, 2)
	assert.Equal(t, []string{".go"}, cfg.Participants[0].Extensions)
	assert.True(t, cfg.Participants[0].Watch)
	assert.Equal(t, "memory", cfg.Participants[1].Kind)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "indexer: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data dir", func(c *Config) { c.Indexer.DataDir = "" }},
		{"zero shards", func(c *Config) { c.Indexer.Shards = 0 }},
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }},
		{"unnamed participant", func(c *Config) {
			c.Participants = []ParticipantConfig{{Kind: "memory"}}
		}},
		{"duplicate participant", func(c *Config) {
			c.Participants = []ParticipantConfig{{Name: "a", Kind: "memory"}, {Name: "a", Kind: "memory"}}
		}},
		{"fs without root", func(c *Config) {
			c.Participants = []ParticipantConfig{{Name: "a", Kind: "fs"}}
		}},
		{"postgres disabled", func(c *Config) {
			c.Participants = []ParticipantConfig{{Name: "a", Kind: "postgres"}}
		}},
		{"unknown kind", func(c *Config) {
			c.Participants = []ParticipantConfig{{Name: "a", Kind: "ftp"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
