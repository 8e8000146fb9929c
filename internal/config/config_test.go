package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8420},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/test.db",
		},
		Storage: StorageConfig{
			ActiveProvider: "primary",
			Providers: []ProviderConfig{
				{Name: "primary", Kind: KindLocal, Enabled: true, Local: LocalProviderConfig{Root: "/tmp/filewarden"}},
			},
			Folders: []FolderConfig{
				{Name: "documents", Access: AccessPrivate},
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name: "postgres requires host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Host = ""
			},
			wantErr: "database.host",
		},
		{
			name:    "sqlite requires path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Storage.Providers = nil },
			wantErr: "at least one provider",
		},
		{
			name: "duplicate provider name",
			mutate: func(c *Config) {
				c.Storage.Providers = append(c.Storage.Providers, c.Storage.Providers[0])
			},
			wantErr: "duplicate provider",
		},
		{
			name:    "active provider must exist",
			mutate:  func(c *Config) { c.Storage.ActiveProvider = "ghost" },
			wantErr: "active_provider",
		},
		{
			name: "duplicate folder name",
			mutate: func(c *Config) {
				c.Storage.Folders = append(c.Storage.Folders, c.Storage.Folders[0])
			},
			wantErr: "duplicate folder",
		},
		{
			name: "folder routes to unknown provider",
			mutate: func(c *Config) {
				c.Storage.Folders[0].Provider = "ghost"
			},
			wantErr: "unknown provider",
		},
		{
			name: "invalid access level",
			mutate: func(c *Config) {
				c.Storage.Folders[0].Access = "everyone"
			},
			wantErr: "access must be",
		},
		{
			name: "negative folder quota",
			mutate: func(c *Config) {
				c.Storage.Folders[0].Quota = -1
			},
			wantErr: "must not be negative",
		},
		{
			name:    "negative global quota",
			mutate:  func(c *Config) { c.Storage.GlobalQuota = -1 },
			wantErr: "global_quota",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{
			name:    "local ok",
			cfg:     ProviderConfig{Name: "p", Kind: KindLocal, Local: LocalProviderConfig{Root: "/data"}},
			wantErr: false,
		},
		{
			name:    "local missing root",
			cfg:     ProviderConfig{Name: "p", Kind: KindLocal},
			wantErr: true,
		},
		{
			name:    "s3 ok with region",
			cfg:     ProviderConfig{Name: "p", Kind: KindS3, S3: S3ProviderConfig{Bucket: "b", Region: "us-east-1"}},
			wantErr: false,
		},
		{
			name:    "s3 ok with endpoint only",
			cfg:     ProviderConfig{Name: "p", Kind: KindS3, S3: S3ProviderConfig{Bucket: "b", Endpoint: "http://minio:9000"}},
			wantErr: false,
		},
		{
			name:    "s3 missing bucket",
			cfg:     ProviderConfig{Name: "p", Kind: KindS3, S3: S3ProviderConfig{Region: "us-east-1"}},
			wantErr: true,
		},
		{
			name:    "s3 missing region and endpoint",
			cfg:     ProviderConfig{Name: "p", Kind: KindS3, S3: S3ProviderConfig{Bucket: "b"}},
			wantErr: true,
		},
		{
			name:    "gcs ok",
			cfg:     ProviderConfig{Name: "p", Kind: KindGCS, GCS: GCSProviderConfig{Bucket: "b"}},
			wantErr: false,
		},
		{
			name:    "gcs missing bucket",
			cfg:     ProviderConfig{Name: "p", Kind: KindGCS},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			cfg:     ProviderConfig{Name: "p", Kind: "ftp"},
			wantErr: true,
		},
		{
			name:    "missing name",
			cfg:     ProviderConfig{Kind: KindLocal, Local: LocalProviderConfig{Root: "/data"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFolderConfig_EffectiveSubpath(t *testing.T) {
	f := FolderConfig{Name: "documents"}
	require.Equal(t, "documents", f.EffectiveSubpath())

	f.Subpath = "docs/v2"
	require.Equal(t, "docs/v2", f.EffectiveSubpath())
}

func TestFolderConfig_ExtensionAllowed(t *testing.T) {
	open := FolderConfig{Name: "anything"}
	require.True(t, open.ExtensionAllowed("exe"))
	require.True(t, open.ExtensionAllowed(""))

	restricted := FolderConfig{Name: "documents", AllowedExtensions: []string{"pdf", "txt"}}
	require.True(t, restricted.ExtensionAllowed("pdf"))
	require.True(t, restricted.ExtensionAllowed("PDF"))
	require.False(t, restricted.ExtensionAllowed("exe"))
	require.False(t, restricted.ExtensionAllowed(""))
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9000
database:
  driver: sqlite
  path: ./test.db
storage:
  active_provider: primary
  global_quota: 1073741824
  providers:
    - name: primary
      kind: local
      enabled: true
      local:
        root: /tmp/filewarden
  folders:
    - name: documents
      allowed_extensions: [pdf, txt]
      max_file_size: 10485760
      quota: 104857600
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values from the file.
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "primary", cfg.Storage.ActiveProvider)
	require.Equal(t, int64(1<<30), cfg.Storage.GlobalQuota)
	require.Len(t, cfg.Storage.Providers, 1)
	require.Equal(t, KindLocal, cfg.Storage.Providers[0].Kind)
	require.Len(t, cfg.Storage.Folders, 1)
	require.Equal(t, int64(10<<20), cfg.Storage.Folders[0].MaxFileSize)

	// Defaults fill in everything the file omits.
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
	require.True(t, cfg.Reconciler.DryRun)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// No providers configured.
	yaml := `
database:
  driver: sqlite
  path: ./test.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestRulesHolder_Replace(t *testing.T) {
	holder := NewRulesHolder(StorageConfig{
		ActiveProvider: "primary",
		GlobalQuota:    100,
		Folders:        []FolderConfig{{Name: "documents"}},
	})

	rules := holder.Current()
	require.Equal(t, int64(100), rules.GlobalQuota)
	_, ok := rules.Folder("documents")
	require.True(t, ok)

	holder.Replace(StorageConfig{
		ActiveProvider: "secondary",
		GlobalQuota:    200,
		Folders:        []FolderConfig{{Name: "images"}},
	})

	updated := holder.Current()
	require.Equal(t, int64(200), updated.GlobalQuota)
	_, ok = updated.Folder("documents")
	require.False(t, ok)
	_, ok = updated.Folder("images")
	require.True(t, ok)

	// The old snapshot is immutable; in-flight readers are unaffected.
	require.Equal(t, int64(100), rules.GlobalQuota)
}

func TestRules_ProviderFor(t *testing.T) {
	rules := NewRules(StorageConfig{
		ActiveProvider: "primary",
		Folders: []FolderConfig{
			{Name: "documents"},
			{Name: "archive", Provider: "cold"},
		},
	})

	docs, _ := rules.Folder("documents")
	require.Equal(t, "primary", rules.ProviderFor(docs))

	archive, _ := rules.Folder("archive")
	require.Equal(t, "cold", rules.ProviderFor(archive))
}
