package swabra

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/swabra/internal/causality"
	cfg "github.com/loykin/swabra/internal/config"
	"github.com/loykin/swabra/internal/feature"
	"github.com/prometheus/client_golang/prometheus"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	c := cfg.Default()
	c.Store.DSN = "memory://"
	c.Cleanup.Schedule = ""
	c.Tools.Dir = filepath.Join(t.TempDir(), "tools")
	c.Tools.IncludeSystemRoots = false
	c.Log.Level = "error"
	c.BuildTypes = []BuildType{{ID: "App"}, {ID: "Lib"}}
	return &c
}

func TestServiceRecordsAndCollects(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	run := Run{ID: "1", BuildTypeID: "App", Parameters: map[string]string{feature.CleanCheckoutCauseBuildTypeID: "Lib"}}
	if err := s.Bus().PublishBuildFinished(ctx, run); err != nil {
		t.Fatalf("publish: %v", err)
	}
	causes, err := s.Watcher().RecentCauses(ctx, "App")
	if err != nil || len(causes) != 1 || causes[0] != "Lib" {
		t.Fatalf("causes = %v, %v", causes, err)
	}

	if err := s.Registry().Remove("Lib"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	report, err := s.Cleanup().RunCycle(ctx)
	if err != nil || report.Interrupted {
		t.Fatalf("cycle: %+v %v", report, err)
	}
	causes, _ = s.Watcher().RecentCauses(ctx, "App")
	if len(causes) != 0 {
		t.Fatalf("cause of a deleted configuration should be collected, got %v", causes)
	}
}

func TestServiceToolNotInstalled(t *testing.T) {
	s, err := Open(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, ok := s.Tools().Installed(); ok {
		t.Fatalf("fresh tools dir should have nothing installed")
	}
	if s.Resolver().IsRequired(context.Background(), Run{}) {
		t.Fatalf("tool cannot be required before it is installed")
	}
}

func TestServicePropertiesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swabra.toml")
	body := `
[store]
dsn = "memory://"

[cleanup]
schedule = ""

[tools]
dir = "` + filepath.ToSlash(filepath.Join(dir, "tools")) + `"

[properties]
"teamcity.healthStatus.swabra.clean.checkout.builds.storage.period" = "1000"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if got := s.Properties().Int64(causality.StoragePeriodProperty, causality.Month); got != 1000 {
		t.Fatalf("period = %d", got)
	}

	body = strings.Replace(body, `"1000"`, `"2000"`, 1)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Properties().Int64(causality.StoragePeriodProperty, causality.Month) != 2000 {
		if time.Now().After(deadline) {
			t.Fatalf("edited property was not picked up")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServiceHandlerServesAPIAndMetrics(t *testing.T) {
	s, err := Open(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/causes/App")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("causes status %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	c := testConfig(t)
	c.Server.Listen = addr
	c.Cleanup.Schedule = "@every 1h"
	s, err := Open(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/api/build-types")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("serve did not return")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Server.BasePath = "api"
	if _, err := Open(context.Background(), c, nil); err == nil || !strings.Contains(err.Error(), "base_path") {
		t.Fatalf("expected base_path error, got %v", err)
	}
}
