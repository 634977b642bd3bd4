package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loykin/swabra"
	"github.com/loykin/swabra/internal/config"
	"github.com/loykin/swabra/internal/handle"
	itls "github.com/loykin/swabra/internal/tls"
	"github.com/loykin/swabra/internal/tools"
	"github.com/loykin/swabra/pkg/client"
)

func runServe(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := swabra.OpenFile(ctx, path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	defer func() { _ = svc.Close() }()
	return svc.Serve(ctx)
}

func runCauses(ctx context.Context, out io.Writer, configPath string, f CausesFlags) error {
	c, err := newClient(configPath, f.API)
	if err != nil {
		return err
	}
	causes, err := c.RecentCauses(ctx, f.BuildType)
	if err != nil {
		return err
	}
	for _, cause := range causes {
		_, _ = fmt.Fprintln(out, cause)
	}
	return nil
}

func runCleanup(ctx context.Context, out io.Writer, configPath string, f CleanupFlags) error {
	c, err := newClient(configPath, f.API)
	if err != nil {
		return err
	}
	switch {
	case f.Interrupt:
		interrupted, err := c.InterruptCleanup(ctx)
		if err != nil {
			return err
		}
		if interrupted {
			_, _ = fmt.Fprintln(out, "cleanup interrupted")
		} else {
			_, _ = fmt.Fprintln(out, "no cleanup running")
		}
		return nil
	case f.Async:
		if err := c.StartCleanup(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "cleanup started")
		return nil
	}
	report, err := c.RunCleanup(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, report)
}

func runToolFetch(ctx context.Context, out io.Writer, configPath string, f ToolFlags) error {
	fc, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dir := f.Dir
	if dir == "" {
		dir = fc.Tools.Dir
	}
	trust := itls.FileTrustStore{
		Files:         append(append([]string(nil), fc.Tools.TrustFiles...), f.TrustFiles...),
		Dirs:          append(append([]string(nil), fc.Tools.TrustDirs...), f.TrustDirs...),
		IncludeSystem: fc.Tools.IncludeSystemRoots && !f.NoSystemRoots,
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	inst, err := tools.NewManager(dir, nil, trust, nil).Download(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, inst)
}

func runToolVerify(out io.Writer, path string) error {
	v, err := handle.NewProvider(nil, nil).ResolveVersion(path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s is %s %s\n", path, handle.DisplayName, v.ID())
	return nil
}

func runToolInstall(out io.Writer, configPath, dir, pkg string) error {
	if dir == "" {
		fc, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		dir = fc.Tools.Dir
	}
	inst, err := tools.NewManager(dir, nil, nil, nil).InstallFromPackage(pkg)
	if err != nil {
		return err
	}
	return printJSON(out, inst)
}

func runConfigInit(out io.Writer, f ConfigInitFlags) error {
	if err := config.WriteTemplate(f.Path, f.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\n", f.Path)
	return nil
}

func loadConfig(path string) (*config.FileConfig, error) {
	fc, _, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return fc, nil
}

// newClient builds an API client from flags, falling back to the daemon
// address in the configuration.
func newClient(configPath string, f APIFlags) (*client.Client, error) {
	cc := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Insecure: f.Insecure}
	if f.CACert != "" {
		cc.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	if cc.BaseURL == "" {
		fc, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cc.BaseURL = apiURL(fc.Server)
	}
	return client.New(cc), nil
}

// apiURL turns a listen address into a URL a local client can reach.
func apiURL(s config.ServerConfig) string {
	scheme := "http"
	if s.TLS.Enabled {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(s.Listen)
	if err != nil {
		host, port = s.Listen, ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	addr := host
	if port != "" {
		addr = net.JoinHostPort(host, port)
	}
	return scheme + "://" + addr + strings.TrimRight(s.BasePath, "/")
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
