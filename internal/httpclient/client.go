// Package httpclient builds the shared [net/http.Client] used for webhook
// delivery.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

type config struct {
	AllowHTTP2 bool
	Timeout    time.Duration
	TLSConfig  *tls.Config
}

type Option = func(*config)

func WithAllowHTTP2(a bool) Option       { return func(c *config) { c.AllowHTTP2 = a } }
func WithTimeout(d time.Duration) Option { return func(c *config) { c.Timeout = d } }
func WithTLSConfig(t *tls.Config) Option { return func(c *config) { c.TLSConfig = t } }

// New creates an HTTP client. The default timeout is 60 seconds.
func New(opts ...Option) *http.Client {
	conf := config{
		AllowHTTP2: true,
		Timeout:    60 * time.Second,
		TLSConfig:  nil,
	}
	for _, opt := range opts {
		opt(&conf)
	}

	return &http.Client{
		Timeout:   conf.Timeout,
		Transport: newTransport(&conf),
	}
}

func newTransport(conf *config) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// Must be set before http2.ConfigureTransports.
	if conf.TLSConfig != nil {
		transport.TLSClientConfig = conf.TLSConfig
	}

	if conf.AllowHTTP2 {
		// There is a bug in http2 on Linux regarding using dead connections.
		// This is a workaround. See https://github.com/golang/go/issues/59690
		tr2, err := http2.ConfigureTransports(transport)
		if err != nil {
			// Documented to fail only if transport was already
			// HTTP2-enabled, which it was not.
			panic("http2.ConfigureTransports: " + err.Error())
		}
		if tr2 != nil {
			tr2.ReadIdleTimeout = 30 * time.Second
		}
	} else {
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		// The default TLSClientConfig has h2 in NextProtos, so the
		// negotiated TLS connection would assume h2 support.
		// See https://github.com/golang/go/issues/50571
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}

	return transport
}
