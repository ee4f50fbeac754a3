// Package tlsutil provides centralized TLS configuration for all outbound
// HTTP clients in dialogueflow.
// 安全加固：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// PoolLimits 每客户端连接池限制。零值字段使用默认值。
type PoolLimits struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
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

// SecureTransport returns an http.Transport with TLS hardening and the
// given pool limits.
func SecureTransport(pool PoolLimits) *http.Transport {
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 100
	}
	if pool.IdleConnTimeout <= 0 {
		pool.IdleConnTimeout = 90 * time.Second
	}
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          pool.MaxIdleConns,
		IdleConnTimeout:       pool.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening.
// 每个后端客户端持有独立的连接池，不跨客户端共享。
func SecureHTTPClient(timeout time.Duration, pool PoolLimits) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(pool),
	}
}
