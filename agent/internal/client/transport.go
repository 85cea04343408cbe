package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
)

const (
	idleConnTimeout = 90 * time.Second
	keepAlive       = 30 * time.Second
)

// authTransport decorates every request with the target's credentials.
// Secrets are resolved per request so a rotated environment value is used
// without rebuilding the client.
type authTransport struct {
	next     http.RoundTripper
	decorate func(*http.Request)
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.decorate(req)
	return t.next.RoundTrip(req)
}

// withAuth wraps next for auth. Modes that add no headers (none, mtls)
// return next unchanged.
func withAuth(next http.RoundTripper, auth config.AuthConfig) http.RoundTripper {
	var decorate func(*http.Request)
	switch auth.Mode {
	case "apikey":
		decorate = func(r *http.Request) { r.Header.Set(auth.Header, auth.Key()) }
	case "bearer":
		decorate = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+auth.Token()) }
	case "basic":
		decorate = func(r *http.Request) { r.SetBasicAuth(auth.Username, auth.Password()) }
	default:
		return next
	}
	return &authTransport{next: next, decorate: decorate}
}

// tlsConfig returns the client TLS settings of tgt, loading the client
// certificate and CA bundle for mtls.
func tlsConfig(tgt config.Target) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: tgt.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if tgt.Auth.Mode != "mtls" {
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(tgt.Auth.CertFile, tgt.Auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if tgt.Auth.CAFile == "" {
		return cfg, nil
	}
	pool, err := loadCAPool(tgt.Auth.CAFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no valid certs found in ca file %q", path)
	}
	return pool, nil
}

// buildHTTPClient returns the client resty drives for tgt. connectTimeout
// bounds both the TCP dial and the TLS handshake; the whole round trip is
// bounded by resty.
func buildHTTPClient(tgt config.Target, connectTimeout time.Duration) (*http.Client, error) {
	tlsCfg, err := tlsConfig(tgt)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: keepAlive}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     idleConnTimeout,
	}
	return &http.Client{Transport: withAuth(base, tgt.Auth)}, nil
}
