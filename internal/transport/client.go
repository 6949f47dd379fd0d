package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/metrics"
)

// Request is a single logical call; Body is replayed on every tier.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Tier       string // tier that produced the response
	Attempts   int
}

// Err returns a *StatusError for status >= 400, nil otherwise.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	return newStatusError(r.StatusCode, r.Body)
}

// Config configures a Client.
type Config struct {
	Policy Policy
	// APIKey is sent as the apikey header and as the bearer when no token is given.
	APIKey    string
	UserAgent string
	// TLSConfig is the base config; tier version bounds are applied on a clone.
	TLSConfig *tls.Config
	Tunnel    TunnelDetector
	// RoundTripper overrides transport construction per tier.
	RoundTripper func(Tier) http.RoundTripper
}

// Client executes requests through the tier policy.
type Client struct {
	cfg Config
	log *zap.Logger
	m   *metrics.Metrics

	mu     sync.Mutex
	pooled map[int]*http.Transport
}

// New creates a Client. An empty policy falls back to DefaultPolicy.
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if len(cfg.Policy.Tiers) == 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Tunnel == nil {
		cfg.Tunnel = StaticTunnel(false)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log, m: m, pooled: make(map[int]*http.Transport)}
}

// Execute runs req through the tiers in order. Any HTTP response, whatever
// its status, is returned immediately. Only transport-class failures move to
// the next tier; after the last one the result is a *NetworkError.
// Cancelling ctx aborts the ladder with ctx.Err().
func (c *Client) Execute(ctx context.Context, req *Request, authToken string) (*Response, error) {
	tunneled := c.cfg.Tunnel.Tunneled(ctx)

	var (
		lastErr   error
		lastClass Class
	)
	for i, tier := range c.cfg.Policy.Tiers {
		resp, err := c.attempt(ctx, i, tier, req, authToken, tunneled)
		if err == nil {
			c.m.HTTPAttempt(tier.Name, "response")
			resp.Tier = tier.Name
			resp.Attempts = i + 1
			return resp, nil
		}
		if ctx.Err() != nil {
			c.m.HTTPAttempt(tier.Name, "canceled")
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ctx.Err())
		}

		class := Classify(err)
		if class == ClassNone {
			c.m.HTTPAttempt(tier.Name, "error")
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}
		c.m.HTTPAttempt(tier.Name, "transport_error")
		c.log.Warn("transport attempt failed",
			zap.String("tier", tier.Name),
			zap.String("class", class.String()),
			zap.String("url", req.URL),
			zap.Bool("tunneled", tunneled),
			zap.Error(err),
		)
		lastErr, lastClass = err, class
	}
	return nil, &NetworkError{Class: lastClass, Attempts: len(c.cfg.Policy.Tiers), Err: lastErr}
}

// CloseIdleConnections drops pooled connections of every tier.
func (c *Client) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.pooled {
		t.CloseIdleConnections()
	}
}

func (c *Client) attempt(ctx context.Context, idx int, tier Tier, req *Request, authToken string, tunneled bool) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if hreq.Header.Get("Content-Type") == "" && req.Body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		hreq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" {
		hreq.Header.Set("apikey", c.cfg.APIKey)
	}
	switch {
	case authToken != "":
		hreq.Header.Set("Authorization", "Bearer "+authToken)
	case c.cfg.APIKey != "":
		hreq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if tunneled || tier.ForceClose {
		hreq.Close = true
		hreq.Header.Set("Connection", "close")
	} else {
		hreq.Header.Set("Connection", "keep-alive")
	}
	if tier.NoCache {
		hreq.Header.Set("Cache-Control", "no-cache")
		hreq.Header.Set("Pragma", "no-cache")
	}

	rt, release := c.roundTripper(idx, tier)
	defer release()

	hc := &http.Client{Transport: rt}
	resp, err := hc.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// a reset mid-body is still a transport failure for this tier
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (c *Client) roundTripper(idx int, tier Tier) (http.RoundTripper, func()) {
	if c.cfg.RoundTripper != nil {
		return c.cfg.RoundTripper(tier), func() {}
	}
	if tier.FreshTransport {
		t := c.newTransport(tier)
		return t, t.CloseIdleConnections
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pooled[idx]
	if !ok {
		t = c.newTransport(tier)
		c.pooled[idx] = t
	}
	return t, func() {}
}

func (c *Client) newTransport(tier Tier) *http.Transport {
	tlsCfg := &tls.Config{}
	if c.cfg.TLSConfig != nil {
		tlsCfg = c.cfg.TLSConfig.Clone()
	}
	if tier.MinTLS != 0 {
		tlsCfg.MinVersion = tier.MinTLS
	}
	if tier.MaxTLS != 0 {
		tlsCfg.MaxVersion = tier.MaxTLS
	}

	dialTimeout := 10 * time.Second
	if tier.Timeout > 0 && tier.Timeout < dialTimeout {
		dialTimeout = tier.Timeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: dialTimeout,
		ForceAttemptHTTP2:   !tier.ForceClose,
		MaxIdleConns:        16,
		MaxConnsPerHost:     tier.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   tier.ForceClose,
	}
}
