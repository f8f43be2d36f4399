// Package netguard is the policy enforcement point for outbound network
// access. Every request is adjudicated against the session's network policy
// before any connection is attempted; module binaries are fetched through a
// retrying client with a hard size ceiling.
package netguard

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/security"
)

const userAgent = "Lumina-Sandbox/1.0"

// Guard gates outbound HTTP behind the network policy.
type Guard struct {
	policy  security.Policy
	client  *resty.Client
	fetcher *retryablehttp.Client
	logger  *logging.Logger
}

// NewGuard builds a guard for the given policy.
func NewGuard(policy security.Policy, logger *logging.Logger) *Guard {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)

	return &Guard{
		policy:  policy,
		client:  restyClient,
		fetcher: retryClient,
		logger:  logging.OrNop(logger).Named("netguard"),
	}
}

// Authorize checks a URL against the network policy and returns the parsed
// URL on success. The error carries the specific policy dimension violated.
func (g *Guard) Authorize(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q not permitted for outbound requests", u.Scheme)
	}

	host := u.Hostname()
	port := defaultPort(u)

	decision := security.EvaluateHost(host, port, g.policy)
	if !decision.Allowed {
		g.logger.Warn("outbound request denied",
			zap.String("host", host),
			zap.Int("port", port),
			zap.Strings("reasons", decision.Reasons),
		)
		return nil, fmt.Errorf("request to %s:%d denied: %s", host, port, decision.Reason())
	}
	return u, nil
}

// Get performs a policy-gated GET and returns the response.
func (g *Guard) Get(ctx context.Context, rawURL string) (*resty.Response, error) {
	u, err := g.Authorize(rawURL)
	if err != nil {
		return nil, err
	}
	return g.client.R().SetContext(ctx).Get(u.String())
}

// FetchModule downloads a module binary with retries, bounded by maxSize.
// The download is aborted as soon as the body exceeds the ceiling so a
// hostile server cannot exhaust memory.
func (g *Guard) FetchModule(ctx context.Context, rawURL string, maxSize int64) ([]byte, error) {
	u, err := g.Authorize(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch module: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch module: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxSize {
		return nil, fmt.Errorf("module binary size %d exceeds limit %d", resp.ContentLength, maxSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch module: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("module binary size exceeds limit %d", maxSize)
	}

	g.logger.Info("module binary fetched",
		zap.String("host", u.Hostname()),
		zap.Int("size", len(body)),
	)
	return body, nil
}

func defaultPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			return port
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
