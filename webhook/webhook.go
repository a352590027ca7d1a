// Package webhook delivers job notifications as HTTP requests, with secret
// substitution applied to the URL and header values.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buildkite/roko"
	"golang.org/x/net/http/httpguts"

	"github.com/minicd/minicd/logger"
	"github.com/minicd/minicd/secrets"
	"github.com/minicd/minicd/version"
)

// StatusError reports a delivered request that was answered with a
// non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.Code)
}

// Notifier issues webhook requests through a shared HTTP client. Transport
// failures are retried a few times; a non-2xx response is terminal.
type Notifier struct {
	logger  logger.Logger
	secrets *secrets.Store
	client  *http.Client
}

func New(l logger.Logger, store *secrets.Store, client *http.Client) *Notifier {
	return &Notifier{
		logger:  l.WithFields(logger.StringField("component", "webhook")),
		secrets: store,
		client:  client,
	}
}

// Send issues one request. The URL and every header value pass through
// secret substitution first. An empty method means GET, and the agent's
// User-Agent is used unless headers declare their own. Success is any
// 2xx response.
func (n *Notifier) Send(ctx context.Context, url, method string, headers map[string]string) error {
	url = n.secrets.Replace(url)

	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	for key, val := range headers {
		val = n.secrets.Replace(val)
		if !httpguts.ValidHeaderFieldName(key) {
			return fmt.Errorf("invalid header name %q", key)
		}
		if !httpguts.ValidHeaderFieldValue(val) {
			return fmt.Errorf("invalid value for header %q", key)
		}
		req.Header.Set(key, val)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	var resp *http.Response
	err = roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(1*time.Second)),
		roko.WithJitter(),
	).DoWithContext(ctx, func(r *roko.Retrier) error {
		var err error
		resp, err = n.client.Do(req)
		if err != nil {
			n.logger.Warn("Webhook request to %s failed: %v (%s)", req.URL.Host, err, r)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
