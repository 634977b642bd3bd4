package handle

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/swabra/internal/metrics"
)

// Provider is the server-side tool provider for handle.exe: it lists the
// single version, fetches it, installs packages and validates them.
type Provider struct {
	downloader Downloader
	url        string
	logger     *slog.Logger
}

// NewProvider builds a provider fetching from DownloadURL.
// A nil downloader means HTTPDownloader{}; a nil logger means slog.Default().
func NewProvider(d Downloader, logger *slog.Logger) *Provider {
	if d == nil {
		d = HTTPDownloader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{downloader: d, url: DownloadURL, logger: logger}
}

// WithURL returns a copy of p downloading from url instead of DownloadURL.
func (p *Provider) WithURL(url string) *Provider {
	cp := *p
	cp.url = url
	return &cp
}

func (p *Provider) Type() ToolType { return Type }

func (p *Provider) AvailableVersions() []Version { return []Version{SingleVersion} }

// Fetch downloads the tool into targetDir and returns the path of the
// downloaded handle.exe. trust is the trust material in effect for this call.
func (p *Provider) Fetch(ctx context.Context, _ Version, targetDir string, trust *x509.CertPool) (string, error) {
	location := filepath.Join(targetDir, ExecutableName)
	if err := p.downloader.Download(ctx, p.url, trust, location); err != nil {
		metrics.IncToolFetch("error")
		return "", &FetchError{Tool: DisplayName, Err: err}
	}
	metrics.IncToolFetch("ok")
	p.logger.Debug("downloaded tool", "tool", DisplayName, "path", location)
	return location, nil
}

// Install copies a package into targetDir. A directory package is copied
// recursively; a file package becomes targetDir/handle.exe.
func (p *Provider) Install(packagePath, targetDir string) error {
	info, err := os.Stat(packagePath)
	if err != nil {
		return &InstallError{Tool: DisplayName, Target: targetDir, Err: err}
	}
	if info.IsDir() {
		err = copyDir(packagePath, targetDir)
	} else {
		err = copyFile(packagePath, filepath.Join(targetDir, ExecutableName), info.Mode().Perm())
	}
	if err != nil {
		return &InstallError{Tool: DisplayName, Target: targetDir, Err: err}
	}
	return nil
}

// ResolveVersion accepts a directory named "handle" or a file named
// "handle.exe", compared case-insensitively. Contents are not inspected.
func (p *Provider) ResolveVersion(packagePath string) (Version, error) {
	name := filepath.Base(packagePath)
	info, err := os.Stat(packagePath)
	if err == nil {
		if info.IsDir() && strings.EqualFold(name, ToolName) {
			return SingleVersion, nil
		}
		if info.Mode().IsRegular() && strings.EqualFold(name, ExecutableName) {
			return SingleVersion, nil
		}
	}
	abs, absErr := filepath.Abs(packagePath)
	if absErr != nil {
		abs = packagePath
	}
	return Version{}, &ValidationError{Path: abs}
}

func copyDir(src string, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		// symlinks are copied as the entry they point to
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			return copyDir(path, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return fmt.Errorf("cannot copy %s: unsupported file type %s", path, info.Mode().Type())
		}
	})
}

func copyFile(src string, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
