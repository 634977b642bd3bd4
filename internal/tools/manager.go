// Package tools keeps the server-side installation of external tools.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/swabra/internal/handle"
	"github.com/loykin/swabra/internal/tls"
)

// Installed describes a tool version present on the server.
type Installed struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

// Manager installs tool versions under Root/<version id>.
type Manager struct {
	root     string
	provider *handle.Provider
	trust    tls.TrustStore
	logger   *slog.Logger

	// serialises installs; never held while downloading
	mu sync.Mutex
}

func NewManager(root string, provider *handle.Provider, trust tls.TrustStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = handle.NewProvider(nil, logger)
	}
	if trust == nil {
		trust = tls.SystemTrustStore{}
	}
	return &Manager{root: root, provider: provider, trust: trust, logger: logger}
}

func (m *Manager) location(id string) string { return filepath.Join(m.root, id) }

// FindInstalledTool returns the install directory of the tool version id.
func (m *Manager) FindInstalledTool(id string) (string, bool) {
	if id != handle.SingleVersion.ID() {
		return "", false
	}
	dir := m.location(id)
	if _, err := m.provider.ResolveVersion(filepath.Join(dir, handle.ExecutableName)); err != nil {
		return "", false
	}
	return dir, true
}

// Installed returns the installed handle.exe, if any.
func (m *Manager) Installed() (Installed, bool) {
	dir, ok := m.FindInstalledTool(handle.SingleVersion.ID())
	if !ok {
		return Installed{}, false
	}
	return Installed{ID: handle.SingleVersion.ID(), Version: handle.SingleVersion.Version, Path: dir}, true
}

// Download fetches handle.exe with the trust material configured right now
// and installs it, replacing any previous installation.
func (m *Manager) Download(ctx context.Context) (Installed, error) {
	pool, err := m.trust.TrustStore()
	if err != nil {
		return Installed{}, fmt.Errorf("load trust store: %w", err)
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return Installed{}, err
	}
	tmp, err := os.MkdirTemp(m.root, ".fetch-*")
	if err != nil {
		return Installed{}, err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	path, err := m.provider.Fetch(ctx, handle.SingleVersion, tmp, pool)
	if err != nil {
		return Installed{}, err
	}
	return m.InstallFromPackage(path)
}

// InstallFromPackage validates a package (a handle directory or a handle.exe
// file) and installs it.
func (m *Manager) InstallFromPackage(packagePath string) (Installed, error) {
	v, err := m.provider.ResolveVersion(packagePath)
	if err != nil {
		return Installed{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dir := m.location(v.ID())
	if err := os.RemoveAll(dir); err != nil {
		return Installed{}, &handle.InstallError{Tool: handle.DisplayName, Target: dir, Err: err}
	}
	if err := m.provider.Install(packagePath, dir); err != nil {
		return Installed{}, err
	}
	m.logger.Info("tool installed", "tool", handle.DisplayName, "version", v.ID(), "path", dir)
	return Installed{ID: v.ID(), Version: v.Version, Path: dir}, nil
}
