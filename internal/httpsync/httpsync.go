// Package httpsync downloads dependency bundles served over HTTP.
package httpsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Downloader fetches a remote file into a local path. The local file is only
// replaced after a successful download.
type Downloader struct {
	path    string // The path where the data will be saved
	url     string
	headers map[string]string
	client  *http.Client
}

func New(path string, url string) *Downloader {
	return &Downloader{path: path, url: url, client: http.DefaultClient}
}

// WithHeaders sets headers included in the request.
func (d *Downloader) WithHeaders(headers map[string]string) *Downloader {
	d.headers = headers
	return d
}

func (d *Downloader) WithClient(client *http.Client) *Downloader {
	d.client = client
	return d
}

// Path returns the local path of the downloaded file.
func (d *Downloader) Path() string {
	return d.path
}

func (d *Downloader) Execute(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return err
	}
	for name, value := range d.headers {
		if value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unsuccessful status code %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(filepath.Dir(d.path), filepath.Base(d.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), d.path)
}

// IsURL reports whether s names a remote http or https location.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
