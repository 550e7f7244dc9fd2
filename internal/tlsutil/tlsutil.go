// Package tlsutil provides the hardened TLS settings shared by the studio's
// outbound HTTP clients (chat proxy, LLM judge) and its HTTPS listener.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a TLS 1.2+ configuration restricted to AEAD suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ServerTLSConfig loads a certificate pair on top of DefaultTLSConfig.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// TransportOption tweaks SecureTransport.
type TransportOption func(*http.Transport)

// WithMaxIdleConnsPerHost raises the per-host idle pool, useful when one
// agent endpoint receives most of the traffic.
func WithMaxIdleConnsPerHost(n int) TransportOption {
	return func(t *http.Transport) { t.MaxIdleConnsPerHost = n }
}

// WithDialTimeout overrides the TCP connect timeout.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(t *http.Transport) {
		t.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
	}
}

// SecureTransport returns an http.Transport with TLS hardening.
func SecureTransport(opts ...TransportOption) *http.Transport {
	t := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SecureHTTPClient returns an http.Client with TLS hardening and a total
// request timeout.
func SecureHTTPClient(timeout time.Duration, opts ...TransportOption) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(opts...),
	}
}
