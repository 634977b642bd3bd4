package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/cleanup"
	"github.com/loykin/swabra/internal/logger"
)

// KeyDelimiter separates nested viper keys. Property names contain dots, so
// the default "." delimiter cannot be used.
const KeyDelimiter = "::"

// EnvPrefix prefixes environment overrides, e.g. SWABRA_STORE_DSN.
const EnvPrefix = "SWABRA"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server     ServerConfig      `toml:"server" mapstructure:"server"`
	Store      StoreConfig       `toml:"store" mapstructure:"store"`
	History    HistoryConfig     `toml:"history" mapstructure:"history"`
	Cleanup    CleanupConfig     `toml:"cleanup" mapstructure:"cleanup"`
	Tools      ToolsConfig       `toml:"tools" mapstructure:"tools"`
	Node       NodeConfig        `toml:"node" mapstructure:"node"`
	Log        logger.Config     `toml:"log" mapstructure:"log"`
	Properties map[string]string `toml:"properties,omitempty" mapstructure:"properties"`
	BuildTypes []build.BuildType `toml:"build_types,omitempty" mapstructure:"build_types"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen" comment:"address of the HTTP API"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir" comment:"holds tls.crt and tls.key when cert_file/key_file are empty"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version" comment:"1.2 or 1.3"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn" comment:"sqlite://path, bolt://path, postgres://..., memory://"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn" comment:"empty disables history; sqlite://, postgres://, clickhouse://, opensearch://"`
}

type CleanupConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule" comment:"cron expression or @every <duration>; empty disables scheduled cleanup"`
}

type ToolsConfig struct {
	Dir                string   `toml:"dir" mapstructure:"dir"`
	TrustFiles         []string `toml:"trust_files" mapstructure:"trust_files"`
	TrustDirs          []string `toml:"trust_dirs" mapstructure:"trust_dirs"`
	IncludeSystemRoots bool     `toml:"include_system_roots" mapstructure:"include_system_roots"`
}

type NodeConfig struct {
	ManageProjectConfigs bool `toml:"manage_project_configs" mapstructure:"manage_project_configs" comment:"only one node of a cluster records clean checkout causes"`
}

// Default returns the configuration used for keys missing from the file.
func Default() FileConfig {
	return FileConfig{
		Server:  ServerConfig{Listen: ":8111", BasePath: "/api", TLS: TLSConfig{MinVersion: "1.2"}},
		Store:   StoreConfig{DSN: "sqlite://swabra.db"},
		Cleanup: CleanupConfig{Schedule: "0 3 * * *"},
		Tools:   ToolsConfig{Dir: "tools", IncludeSystemRoots: true},
		Node:    NodeConfig{ManageProjectConfigs: true},
		Log:     logger.Config{Level: "info", Format: "text"},
	}
}

// New returns a viper instance with defaults and SWABRA_* environment
// overrides set up, ready to read path.
func New(path string) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(KeyDelimiter))
	d := Default()
	set := func(key string, val any) { v.SetDefault(strings.ReplaceAll(key, ".", KeyDelimiter), val) }
	set("server.listen", d.Server.Listen)
	set("server.base_path", d.Server.BasePath)
	set("server.tls.enabled", d.Server.TLS.Enabled)
	set("server.tls.cert_file", "")
	set("server.tls.key_file", "")
	set("server.tls.dir", "")
	set("server.tls.auto_generate", false)
	set("server.tls.min_version", d.Server.TLS.MinVersion)
	set("store.dsn", d.Store.DSN)
	set("history.dsn", d.History.DSN)
	set("cleanup.schedule", d.Cleanup.Schedule)
	set("tools.dir", d.Tools.Dir)
	set("tools.include_system_roots", d.Tools.IncludeSystemRoots)
	set("node.manage_project_configs", d.Node.ManageProjectConfigs)
	set("log.level", d.Log.Level)
	set("log.format", d.Log.Format)
	set("log.color", false)
	set("log.file.path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(KeyDelimiter, "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	}
	return v
}

// Load reads path and returns the decoded configuration together with the
// viper instance backing it, so callers can watch it for property changes.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*FileConfig, *viper.Viper, error) {
	v := New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	fc, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return fc, v, nil
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*FileConfig, error) {
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) Validate() error {
	if strings.TrimSpace(fc.Server.Listen) == "" {
		return errors.New("server.listen is required")
	}
	if fc.Server.BasePath != "" && !strings.HasPrefix(fc.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/': %q", fc.Server.BasePath)
	}
	if strings.TrimSpace(fc.Store.DSN) == "" {
		return errors.New("store.dsn is required")
	}
	if fc.Cleanup.Schedule != "" {
		if _, err := cleanup.ParseSchedule(fc.Cleanup.Schedule); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(fc.BuildTypes))
	for i, bt := range fc.BuildTypes {
		id := strings.TrimSpace(bt.ID)
		if id == "" {
			return fmt.Errorf("build_types[%d] requires id", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate build type %s", id)
		}
		seen[id] = true
	}
	return nil
}

// WriteTemplate writes the default configuration to path. An existing file is
// only replaced with force.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	b, err := toml.Marshal(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}
