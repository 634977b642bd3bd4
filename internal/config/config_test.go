package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "swabra.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoad_Full(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "127.0.0.1:9000"
base_path = "/swabra"
  [server.tls]
  enabled = true
  dir = "/etc/swabra/tls"
  auto_generate = true

[store]
dsn = "bolt:///var/lib/swabra/causes.db"

[history]
dsn = "clickhouse://ch:9000/audit?table=causality"

[cleanup]
schedule = "@every 12h"

[tools]
dir = "/opt/swabra/tools"
trust_files = ["/etc/ssl/corp.pem"]
trust_dirs = ["/etc/swabra/trust.d"]
include_system_roots = false

[node]
manage_project_configs = false

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/var/log/swabra.log"
  max_backups = 5

[properties]
"teamcity.healthStatus.swabra.clean.checkout.builds.storage.period" = "86400000"

[[build_types]]
id = "Project_Build"
name = "Build"

[[build_types]]
id = "Project_Deploy"
project_id = "Project"
`)
	fc, v, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v == nil {
		t.Fatalf("expected viper instance")
	}
	if fc.Server.Listen != "127.0.0.1:9000" || fc.Server.BasePath != "/swabra" {
		t.Fatalf("unexpected server: %+v", fc.Server)
	}
	if !fc.Server.TLS.Enabled || !fc.Server.TLS.AutoGenerate || fc.Server.TLS.Dir != "/etc/swabra/tls" || fc.Server.TLS.MinVersion != "1.2" {
		t.Fatalf("unexpected tls: %+v", fc.Server.TLS)
	}
	if fc.Store.DSN != "bolt:///var/lib/swabra/causes.db" || !strings.HasPrefix(fc.History.DSN, "clickhouse://") {
		t.Fatalf("unexpected dsns: %+v %+v", fc.Store, fc.History)
	}
	if fc.Cleanup.Schedule != "@every 12h" {
		t.Fatalf("unexpected schedule %q", fc.Cleanup.Schedule)
	}
	if fc.Tools.Dir != "/opt/swabra/tools" || len(fc.Tools.TrustFiles) != 1 || len(fc.Tools.TrustDirs) != 1 || fc.Tools.IncludeSystemRoots {
		t.Fatalf("unexpected tools: %+v", fc.Tools)
	}
	if fc.Node.ManageProjectConfigs {
		t.Fatalf("node flag not read")
	}
	if fc.Log.Level != "debug" || fc.Log.Format != "json" || fc.Log.File.Path != "/var/log/swabra.log" || fc.Log.File.MaxBackups != 5 {
		t.Fatalf("unexpected log: %+v", fc.Log)
	}
	// viper lower-cases map keys
	if fc.Properties["teamcity.healthstatus.swabra.clean.checkout.builds.storage.period"] != "86400000" {
		t.Fatalf("unexpected properties: %v", fc.Properties)
	}
	if len(fc.BuildTypes) != 2 || fc.BuildTypes[0].ID != "Project_Build" || fc.BuildTypes[1].ProjectID != "Project" {
		t.Fatalf("unexpected build types: %+v", fc.BuildTypes)
	}
}

func TestLoad_DefaultsForMissingSections(t *testing.T) {
	p := writeTOML(t, "[store]\ndsn = \"memory://\"\n")
	fc, _, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Default()
	if fc.Server.Listen != d.Server.Listen || fc.Server.BasePath != d.Server.BasePath {
		t.Fatalf("server defaults not applied: %+v", fc.Server)
	}
	if fc.Cleanup.Schedule != d.Cleanup.Schedule || !fc.Node.ManageProjectConfigs || !fc.Tools.IncludeSystemRoots {
		t.Fatalf("defaults not applied: %+v", fc)
	}
	if fc.Store.DSN != "memory://" {
		t.Fatalf("file value lost: %q", fc.Store.DSN)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWABRA_STORE_DSN", "memory://")
	t.Setenv("SWABRA_NODE_MANAGE_PROJECT_CONFIGS", "false")
	fc, _, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Store.DSN != "memory://" || fc.Node.ManageProjectConfigs {
		t.Fatalf("env overrides not applied: %+v %+v", fc.Store, fc.Node)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad schedule":       "[cleanup]\nschedule = \"whenever\"\n",
		"relative base path": "[server]\nbase_path = \"api\"\n",
		"empty listen":       "[server]\nlisten = \"\"\n",
		"missing id":         "[[build_types]]\nname = \"x\"\n",
		"duplicate id":       "[[build_types]]\nid = \"a\"\n[[build_types]]\nid = \"a\"\n",
		"not toml":           "this is = = not toml",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Load(writeTOML(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "conf", "swabra.toml")
	if err := WriteTemplate(p, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(p, false); err == nil {
		t.Fatalf("expected refusal to overwrite without force")
	}
	if err := WriteTemplate(p, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), "[server]") || !strings.Contains(string(b), "# address of the HTTP API") {
		t.Fatalf("template lacks sections or comments:\n%s", b)
	}

	fc, _, err := Load(p)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	d := Default()
	if fc.Server != d.Server || fc.Store != d.Store || fc.Cleanup != d.Cleanup || fc.Node != d.Node {
		t.Fatalf("template does not round trip: %+v", fc)
	}
}
