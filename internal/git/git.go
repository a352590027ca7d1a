// Package git wraps the git binary for the three operations the pipeline
// needs: cloning a remote, checking out a revision, and resolving a
// friendly name for it.
package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/minicd/minicd/logger"
	"github.com/minicd/minicd/process"
)

// ExitError reports a git invocation that exited non-zero, carrying the
// captured stderr.
type ExitError struct {
	ExitStatus int
	Stderr     string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("git failed (%d): %s", e.ExitStatus, strings.TrimSpace(e.Stderr))
}

// Client invokes git as a subprocess with a non-interactive environment:
// prompts are disabled and configured credential helpers are ignored, so a
// remote that needs credentials fails fast instead of hanging the pipeline.
type Client struct {
	logger logger.Logger

	// path of the git binary, resolved through PATH.
	path string
}

func NewClient(l logger.Logger) *Client {
	return &Client{
		logger: l.WithFields(logger.StringField("component", "git")),
		path:   "git",
	}
}

func (c *Client) run(ctx context.Context, args ...string) (*process.Result, error) {
	p := process.New(c.logger, process.Config{
		Path: c.path,
		Args: args,
		Env: append(os.Environ(),
			"GIT_TERMINAL_PROMPT=0",
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=credential.helper",
			"GIT_CONFIG_VALUE_0=",
		),
	})

	res, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &ExitError{ExitStatus: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// Clone clones remote into dir.
func (c *Client) Clone(ctx context.Context, remote, dir string) error {
	if _, err := c.run(ctx, "clone", remote, dir); err != nil {
		return fmt.Errorf("cloning %s: %w", remote, err)
	}
	return nil
}

// Checkout checks out ref inside the clone at dir.
func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	if _, err := c.run(ctx, "-C", dir, "checkout", ref); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}
	return nil
}

// ResolveRefName returns a human-friendly name for the checked out ref:
// the exact tag when one points at it, otherwise the second line of
// `git branch -a --contains`, which skips the detached HEAD entry. When
// neither yields a name the ref itself is returned. Used only for
// notification context.
func (c *Client) ResolveRefName(ctx context.Context, dir, ref string) (string, error) {
	if res, err := c.run(ctx, "-C", dir, "describe", "--tags", "--exact-match"); err == nil {
		return strings.TrimSpace(res.Stdout), nil
	}

	res, err := c.run(ctx, "-C", dir, "branch", "-a", "--contains", ref)
	if err != nil {
		return "", fmt.Errorf("resolving name for %s: %w", ref, err)
	}

	lines := strings.Split(res.Stdout, "\n")
	if len(lines) < 2 {
		return ref, nil
	}
	return strings.TrimSpace(lines[1]), nil
}
