package handle

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Downloader fetches url into dest trusting only the given roots.
// It blocks until the transfer completes or ctx is done.
type Downloader interface {
	Download(ctx context.Context, url string, trust *x509.CertPool, dest string) error
}

// HTTPDownloader downloads over HTTPS. A client is built per call because the
// trust material can change between calls. It has no timeout of its own;
// bound the transfer with ctx.
type HTTPDownloader struct {
	// Transport is cloned for each call; nil means http.DefaultTransport.
	Transport *http.Transport
	UserAgent string
}

func (d HTTPDownloader) Download(ctx context.Context, url string, trust *x509.CertPool, dest string) error {
	base := d.Transport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	tr := base.Clone()
	tr.TLSClientConfig = &tls.Config{RootCAs: trust, MinVersion: tls.VersionTLS12}
	client := &http.Client{Transport: tr}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	// write next to dest and rename so a broken transfer leaves nothing behind
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
