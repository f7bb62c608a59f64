package upstream

import (
	"context"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptocompare-telegram-bot/internal/metrics"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxBodySize = 8 << 20

// Policy controls how a mounted endpoint is retried
type Policy struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// RetryStatuses are the server-side codes worth another attempt
	RetryStatuses []int
}

// DefaultPolicy mirrors a urllib3 Retry(total=5, backoff_factor=0.1) session
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		RetryStatuses: []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	}
}

func (p Policy) retries(status int) bool {
	for _, s := range p.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type mount struct {
	prefix string
	policy Policy
}

// Response is a fully read upstream response
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Retries int
}

// Client executes requests, retrying transient failures per mounted policy.
// Requests to URLs with no mounted policy are attempted once.
type Client struct {
	http *http.Client

	mu     sync.RWMutex
	mounts []mount

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client whose attempts are bounded by timeout
func New(timeout time.Duration) *Client {
	return &Client{
		http:  &http.Client{Timeout: timeout},
		sleep: sleepCtx,
	}
}

// Mount attaches a retry policy to every URL starting with prefix.
// The longest matching prefix wins.
func (c *Client) Mount(prefix string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.mounts {
		if c.mounts[i].prefix == prefix {
			c.mounts[i].policy = p
			return
		}
	}
	c.mounts = append(c.mounts, mount{prefix: prefix, policy: p})
	sort.Slice(c.mounts, func(i, j int) bool {
		return len(c.mounts[i].prefix) > len(c.mounts[j].prefix)
	})
}

func (c *Client) policyFor(url string) Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.mounts {
		if strings.HasPrefix(url, m.prefix) {
			return m.policy
		}
	}
	return Policy{}
}

// Get is a convenience wrapper around Execute
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build request")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.Execute(ctx, req)
}

// Execute returns the first successful response, an *UpstreamError for
// non-retryable statuses, or *UpstreamExhausted once the retry budget is spent.
func (c *Client) Execute(ctx context.Context, req *http.Request) (*Response, error) {
	policy := c.policyFor(req.URL.String())
	delays := &backoff.Backoff{
		Min:    policy.BaseDelay,
		Max:    policy.MaxDelay,
		Factor: policy.Multiplier,
	}
	endpoint := req.URL.Path

	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, req, policy)
		if err == nil {
			resp.Retries = attempt
			return resp, nil
		}

		if !IsRetriable(err) {
			return nil, err
		}

		if attempt >= policy.MaxRetries {
			exhausted := &UpstreamExhausted{URL: req.URL.Redacted(), Attempts: attempt + 1}
			var ae *attemptError
			if errors.As(err, &ae) {
				exhausted.LastStatus = ae.status
				exhausted.LastErr = ae.err
			}
			return nil, exhausted
		}

		delay := delays.Duration()
		metrics.UpstreamRetries.WithLabelValues(endpoint).Inc()
		log.Debugf("retrying %s in %s (attempt %d): %v", endpoint, delay, attempt+1, err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *http.Request, policy Policy) (*Response, error) {
	endpoint := req.URL.Path

	httpResp, err := c.http.Do(req.Clone(ctx))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &attemptError{err: err}
		}
		return nil, errors.Wrapf(err, "request %s", endpoint)
	}
	defer httpResp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &attemptError{err: err}
		}
		return nil, errors.Wrapf(err, "read %s", endpoint)
	}

	if policy.retries(httpResp.StatusCode) {
		return nil, &attemptError{status: httpResp.StatusCode}
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamError{
			URL:    req.URL.Redacted(),
			Status: httpResp.StatusCode,
			Body:   string(body),
		}
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
