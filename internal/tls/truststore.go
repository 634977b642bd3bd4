package tls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TrustStore returns the trust material used for outgoing secure downloads.
// The result may differ between calls.
type TrustStore interface {
	TrustStore() (*x509.CertPool, error)
}

// FileTrustStore builds a pool from PEM bundles on disk. Files and every
// *.pem, *.crt and *.cer file under Dirs are re-read on each call, so
// certificates dropped into a directory are picked up without a restart.
// With IncludeSystem the system roots are the base of the pool.
type FileTrustStore struct {
	Files         []string
	Dirs          []string
	IncludeSystem bool
}

func (f FileTrustStore) TrustStore() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if f.IncludeSystem {
		sys, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("load system roots: %w", err)
		}
		pool = sys
	}

	files := append([]string(nil), f.Files...)
	for _, dir := range f.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read trust dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isCertFile(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	for _, p := range files {
		b, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("read trust file %s: %w", p, err)
		}
		if !pool.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("no certificates found in %s", p)
		}
	}
	return pool, nil
}

func isCertFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pem", ".crt", ".cer":
		return true
	default:
		return false
	}
}

// SystemTrustStore trusts exactly the host's root certificates.
type SystemTrustStore struct{}

func (SystemTrustStore) TrustStore() (*x509.CertPool, error) { return x509.SystemCertPool() }
