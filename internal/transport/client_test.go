package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/metrics"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func okResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func fastPolicy() Policy {
	return DefaultPolicy().WithTimeouts(2*time.Second, 2*time.Second, 2*time.Second)
}

func TestExecute_HTTP401_SingleAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"msg":"Invalid token","error_code":"bad_jwt"}`))
	}))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	m := metrics.New()
	c := New(Config{Policy: fastPolicy(), APIKey: "anon", TLSConfig: &tls.Config{RootCAs: pool}}, zaptest.NewLogger(t), m)

	resp, err := c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/auth/validate"}, "tok")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, 1, resp.Attempts)
	require.Equal(t, "primary", resp.Tier)

	var se *StatusError
	require.True(t, errors.As(resp.Err(), &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, "Invalid token", se.Message)
	require.Equal(t, "bad_jwt", se.Code)
	require.False(t, se.ServerClass())
}

func TestExecute_HandshakeFailure_AllTiers(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		tiers []string
	)
	c := New(Config{
		Policy: fastPolicy(),
		RoundTripper: func(tier Tier) http.RoundTripper {
			return rtFunc(func(*http.Request) (*http.Response, error) {
				mu.Lock()
				tiers = append(tiers, tier.Name)
				mu.Unlock()
				return nil, tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}
			})
		},
	}, nil, nil)

	resp, err := c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "https://example.invalid/pets"}, "")
	require.Nil(t, resp)
	require.True(t, errors.Is(err, errs.ErrNetwork))

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	require.Equal(t, ClassHandshake, ne.Class)
	require.Equal(t, 3, ne.Attempts)
	require.Equal(t, []string{"primary", "narrowed", "conservative"}, tiers)
}

func TestExecute_RecoversOnNextTier(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := New(Config{
		Policy: fastPolicy(),
		RoundTripper: func(Tier) http.RoundTripper {
			return rtFunc(func(r *http.Request) (*http.Response, error) {
				if calls.Add(1) == 1 {
					return nil, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
				}
				return okResponse(r, http.StatusOK, `{"data":[]}`), nil
			})
		},
	}, nil, nil)

	resp, err := c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "https://api.example.com/pets"}, "tok")
	require.NoError(t, err)
	require.Equal(t, "narrowed", resp.Tier)
	require.Equal(t, 2, resp.Attempts)
	require.NoError(t, resp.Err())
}

func TestExecute_ServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := New(Config{
		Policy: fastPolicy(),
		RoundTripper: func(Tier) http.RoundTripper {
			return rtFunc(func(r *http.Request) (*http.Response, error) {
				calls.Add(1)
				return okResponse(r, http.StatusServiceUnavailable, `{"message":"down"}`), nil
			})
		},
	}, nil, nil)

	resp, err := c.Execute(context.Background(), &Request{Method: http.MethodPost, URL: "https://api.example.com/auth/login", Body: []byte(`{}`)}, "")
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.True(t, errors.As(resp.Err(), &se))
	require.True(t, se.ServerClass())
	require.Equal(t, "down", se.Message)
}

func TestExecute_ConnectionHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tunneled bool
		want     string
	}{
		{name: "direct", tunneled: false, want: "keep-alive"},
		{name: "tunnel", tunneled: true, want: "close"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got string
			var closeFlag bool
			c := New(Config{
				Policy: fastPolicy(),
				Tunnel: StaticTunnel(tt.tunneled),
				RoundTripper: func(Tier) http.RoundTripper {
					return rtFunc(func(r *http.Request) (*http.Response, error) {
						got = r.Header.Get("Connection")
						closeFlag = r.Close
						return okResponse(r, http.StatusOK, `{}`), nil
					})
				},
			}, nil, nil)
			_, err := c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "https://api.example.com/x"}, "")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.tunneled, closeFlag)
		})
	}
}

func TestExecute_ConservativeTierHeaders(t *testing.T) {
	t.Parallel()

	var last *http.Request
	c := New(Config{
		Policy: fastPolicy(),
		RoundTripper: func(tier Tier) http.RoundTripper {
			return rtFunc(func(r *http.Request) (*http.Response, error) {
				if tier.Name != "conservative" {
					return nil, context.DeadlineExceeded
				}
				last = r
				return okResponse(r, http.StatusOK, `{}`), nil
			})
		},
	}, nil, nil)

	resp, err := c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "https://api.example.com/x"}, "")
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, "no-cache", last.Header.Get("Cache-Control"))
	require.Equal(t, "close", last.Header.Get("Connection"))
}

func TestExecute_CallerCancelStopsLadder(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{
		Policy: fastPolicy(),
		RoundTripper: func(Tier) http.RoundTripper {
			return rtFunc(func(r *http.Request) (*http.Response, error) {
				calls.Add(1)
				cancel()
				<-r.Context().Done()
				return nil, r.Context().Err()
			})
		},
	}, nil, nil)

	_, err := c.Execute(ctx, &Request{Method: http.MethodGet, URL: "https://api.example.com/x"}, "")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, errs.ErrNetwork))
	require.Equal(t, int32(1), calls.Load())
}

func TestExecute_Unreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(Config{Policy: fastPolicy()}, zaptest.NewLogger(t), nil)
	_, err = c.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "http://" + addr + "/"}, "")

	var ne *NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	require.Equal(t, ClassUnreachable, ne.Class)
	require.Equal(t, 3, ne.Attempts)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"record header", tls.RecordHeaderError{Msg: "bad"}, ClassHandshake},
		{"alert", tls.AlertError(40), ClassHandshake},
		{"unknown authority", x509.UnknownAuthorityError{}, ClassHandshake},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ClassUnreachable},
		{"host unreachable", syscall.EHOSTUNREACH, ClassUnreachable},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, ClassUnreachable},
		{"deadline", context.DeadlineExceeded, ClassTimeout},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ClassReset},
		{"eof", io.ErrUnexpectedEOF, ClassReset},
		{"other", errors.New("boom"), ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v)=%s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	require.Len(t, p.Tiers, 3)
	require.Equal(t, 30*time.Second, p.Tiers[0].Timeout)
	require.Zero(t, p.Tiers[0].MinTLS, "primary tier keeps the platform's TLS floor")
	require.Zero(t, p.Tiers[0].MaxTLS, "primary tier keeps the platform's TLS ceiling")
	require.Equal(t, uint16(tls.VersionTLS12), p.Tiers[1].MaxTLS)
	require.Equal(t, 15*time.Second, p.Tiers[1].Timeout)
	require.True(t, p.Tiers[2].FreshTransport)
	require.Equal(t, 1, p.Tiers[2].MaxConnsPerHost)
	require.Equal(t, 60*time.Second, p.Tiers[2].Timeout)

	q := p.WithTimeouts(time.Second, 0)
	require.Equal(t, time.Second, q.Tiers[0].Timeout)
	require.Equal(t, 15*time.Second, q.Tiers[1].Timeout)
	require.Equal(t, 30*time.Second, p.Tiers[0].Timeout, "original policy untouched")
}
