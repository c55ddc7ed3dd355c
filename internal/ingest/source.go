package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/wqiforecast/internal/httputil"
	"github.com/lox/wqiforecast/internal/metrics"
)

const maxDatasetBytes = 64 << 20

// Fetcher retrieves a dataset from a location: a local path, an http(s)
// URL or an ftp URL.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Sources dispatches on the location's scheme.
type Sources struct {
	HTTP *HTTPSource
	FTP  *FTPSource
}

func NewSources() *Sources {
	return &Sources{
		HTTP: NewHTTPSource(httputil.NewClient()),
		FTP:  NewFTPSource(),
	}
}

func (s *Sources) Fetch(ctx context.Context, location string) ([]byte, error) {
	switch scheme(location) {
	case "http", "https":
		return s.HTTP.Fetch(ctx, location)
	case "ftp":
		return s.FTP.Fetch(ctx, location)
	case "file":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse location: %w", err)
		}
		return readFile(u.Path)
	}
	return readFile(location)
}

func scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(location[:i])
}

func readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return data, nil
}

func newBackOff(ctx context.Context, maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return backoff.WithContext(bo, ctx)
}

type HTTPSource struct {
	client     *http.Client
	maxElapsed time.Duration
}

func NewHTTPSource(client *http.Client) *HTTPSource {
	return &HTTPSource{client: client, maxElapsed: 2 * time.Minute}
}

func (h *HTTPSource) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	scheme := scheme(rawURL)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch dataset: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch dataset: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch dataset: status %d: %s", resp.StatusCode, truncateBody(string(b), 200)))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDatasetBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	err := backoff.Retry(operation, newBackOff(ctx, h.maxElapsed))
	metrics.SourceFetchLatency.WithLabelValues(scheme).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceFetchesTotal.WithLabelValues(scheme, "error").Inc()
		return nil, err
	}
	metrics.SourceFetchesTotal.WithLabelValues(scheme, "ok").Inc()
	return body, nil
}

type FTPSource struct {
	timeout    time.Duration
	maxElapsed time.Duration
}

func NewFTPSource() *FTPSource {
	return &FTPSource{timeout: 30 * time.Second, maxElapsed: 2 * time.Minute}
}

// Fetch retrieves ftp://[user[:pass]@]host[:port]/path. Without
// credentials it logs in anonymously.
func (f *FTPSource) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ftp url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}

	start := time.Now()
	var body []byte
	operation := func() error {
		conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return fmt.Errorf("ftp dial: %w", err)
		}
		defer conn.Quit()

		if err := conn.Login(user, pass); err != nil {
			return permanentIfRejected(fmt.Errorf("ftp login: %w", err))
		}

		resp, err := conn.Retr(u.Path)
		if err != nil {
			return permanentIfRejected(fmt.Errorf("ftp retr: %w", err))
		}
		defer resp.Close()

		body, err = io.ReadAll(io.LimitReader(resp, maxDatasetBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	err = backoff.Retry(operation, newBackOff(ctx, f.maxElapsed))
	metrics.SourceFetchLatency.WithLabelValues("ftp").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceFetchesTotal.WithLabelValues("ftp", "error").Inc()
		return nil, err
	}
	metrics.SourceFetchesTotal.WithLabelValues("ftp", "ok").Inc()
	return body, nil
}

// permanentIfRejected stops retrying on 5xx FTP replies, which mean the
// server refused the credentials or the file.
func permanentIfRejected(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return backoff.Permanent(err)
	}
	return err
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
