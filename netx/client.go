package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"charassets/obs"
)

const (
	DefaultProbeTimeout    = 5 * time.Second
	DefaultDownloadTimeout = 10 * time.Second
	DefaultLoadTimeout     = 10 * time.Second
)

// maxBodyBytes caps Fetch and Download bodies. Larger bodies are rejected
// with ErrBodyTooLarge rather than truncated.
var maxBodyBytes int64 = 64 << 20

var ErrBodyTooLarge = errors.New("netx: response body exceeds size limit")

// HTTPError is returned by Fetch for non-2xx responses.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.URL)
}

// Data is a fetched body: parsed JSON when it decodes, raw text otherwise.
type Data struct {
	Raw    []byte
	isJSON bool
}

func (d Data) IsJSON() bool { return d.isJSON }

func (d Data) Text() string { return string(d.Raw) }

// Decode unmarshals the body into v. It fails for text bodies.
func (d Data) Decode(v any) error {
	if !d.isJSON {
		return errors.New("body is not json")
	}
	return json.Unmarshal(d.Raw, v)
}

type Config struct {
	// Mirrors are the data mirror base URLs, primary first.
	Mirrors         []string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	// RequestsPerSecond limits probes and downloads; <=0 means unlimited.
	RequestsPerSecond float64
	UserAgent         string
	Transport         http.RoundTripper
	Logger            *slog.Logger
}

type Client struct {
	http            *http.Client
	mirrors         []string
	probeTimeout    time.Duration
	downloadTimeout time.Duration
	limiter         *rate.Limiter
	userAgent       string
	logger          *slog.Logger
}

func New(cfg Config) *Client {
	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		m = strings.TrimRight(strings.TrimSpace(m), "/")
		if m != "" {
			mirrors = append(mirrors, m)
		}
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	downloadTimeout := cfg.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}
	var lim *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "charassets/1.0"
	}
	return &Client{
		http:            &http.Client{Transport: obs.HTTPTransport(cfg.Transport)},
		mirrors:         mirrors,
		probeTimeout:    probeTimeout,
		downloadTimeout: downloadTimeout,
		limiter:         lim,
		userAgent:       ua,
		logger:          logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Fetch GETs url. Non-2xx responses fail with *HTTPError; a body that is not
// valid JSON is returned as text rather than failing.
func (c *Client) Fetch(ctx context.Context, url string) (Data, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return Data{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		obs.RecordNet("fetch", false)
		return Data{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		obs.RecordNet("fetch", false)
		return Data{}, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		obs.RecordNet("fetch", false)
		return Data{}, err
	}
	if int64(len(body)) > maxBodyBytes {
		obs.RecordNet("fetch", false)
		return Data{}, fmt.Errorf("%w: %s", ErrBodyTooLarge, url)
	}
	obs.RecordNet("fetch", true)
	trimmed := bytes.TrimSpace(body)
	return Data{Raw: body, isJSON: len(trimmed) > 0 && json.Valid(trimmed)}, nil
}

// ProbeExists reports whether url answers a HEAD with 2xx within the probe
// timeout. Every failure, including timeouts, is reported as false.
func (c *Client) ProbeExists(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	if err := c.wait(ctx); err != nil {
		return false
	}
	req, err := c.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		obs.RecordNet("probe", false)
		c.logger.Debug("probe transport error", "url", url, "err", err)
		return false
	}
	_ = resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	obs.RecordNet("probe", ok)
	return ok
}

type LoadOptions struct {
	PreferPrimary bool
	Timeout       time.Duration
	Retries       int
}

// candidateURLs builds the ordered mirror URL list for path.
func (c *Client) candidateURLs(path string, preferPrimary bool) []string {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	out := make([]string, 0, len(c.mirrors))
	for _, m := range c.mirrors {
		out = append(out, m+"/"+path)
	}
	if !preferPrimary {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// LoadWithFallback tries every mirror in order, each up to Retries+1 times,
// and returns the first JSON payload. It never fails: exhaustion is Offline.
func (c *Client) LoadWithFallback(ctx context.Context, path string, opts LoadOptions) Result[json.RawMessage] {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	urls := c.candidateURLs(path, opts.PreferPrimary)
	if len(urls) == 0 {
		return Offline[json.RawMessage]("no mirrors configured")
	}
	var lastErr error
	for _, u := range urls {
		for attempt := 0; attempt <= retries; attempt++ {
			if ctx.Err() != nil {
				return Offline[json.RawMessage](ctx.Err().Error())
			}
			data, err := c.fetchWithTimeout(ctx, u, timeout)
			if err == nil && data.IsJSON() {
				obs.RecordNet("load", true)
				return Ok(json.RawMessage(data.Raw))
			}
			if err == nil {
				err = errors.New("response is not json")
			}
			lastErr = err
			c.logger.Debug("mirror load attempt failed", "url", u, "attempt", attempt+1, "err", err)
		}
	}
	obs.RecordNet("load", false)
	c.logger.Warn("all mirrors exhausted", "path", path, "err", lastErr)
	return Offline[json.RawMessage](fmt.Sprintf("all mirrors failed for %s: %v", path, lastErr))
}

func (c *Client) fetchWithTimeout(ctx context.Context, url string, timeout time.Duration) (Data, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Fetch(ctx, url)
}

// LoadInto decodes a LoadWithFallback payload into T.
func LoadInto[T any](ctx context.Context, c *Client, path string, opts LoadOptions) Result[T] {
	raw, ok := c.LoadWithFallback(ctx, path, opts).Get()
	if !ok {
		return Offline[T]("unavailable: " + path)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return Offline[T](fmt.Sprintf("decode %s: %v", path, err))
	}
	return Ok(v)
}

// Download GETs url into dst within the download timeout. dst is replaced
// atomically so an interrupted download never leaves a partial cache file.
func (c *Client) Download(ctx context.Context, url, dst string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		obs.RecordNet("download", false)
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.RecordNet("download", false)
		return 0, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxBodyBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBodyBytes {
		err = fmt.Errorf("%w: %s", ErrBodyTooLarge, url)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		obs.RecordNet("download", false)
		return 0, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	obs.RecordNet("download", true)
	return n, nil
}
