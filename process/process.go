// Package process runs subprocesses to completion, capturing their exit
// code and output streams. Both the git driver and the script runner are
// built on it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/minicd/minicd/logger"
)

// waitDelay bounds how long Wait blocks on the child's inherited pipes
// after the context is cancelled. Scripts may spawn daemons that keep the
// pipes open indefinitely.
const waitDelay = 5 * time.Second

// Config describes a subprocess invocation.
type Config struct {
	Path string
	Args []string

	// Env is the complete environment for the child. Nil inherits the
	// parent's environment.
	Env []string

	// Dir is the working directory. Empty means the parent's.
	Dir string
}

// Result is the outcome of a finished subprocess.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type Process struct {
	logger logger.Logger
	conf   Config
}

func New(l logger.Logger, c Config) *Process {
	return &Process{
		logger: l.WithFields(logger.StringField("component", "process")),
		conf:   c,
	}
}

// Run executes the subprocess and waits for it. A non-zero exit is not an
// error; it is reported through Result.ExitCode. Errors are reserved for
// spawn failures and context cancellation.
func (p *Process) Run(ctx context.Context) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.conf.Path, p.conf.Args...)
	cmd.Dir = p.conf.Dir
	cmd.Env = p.conf.Env
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Debug("Running %s %v", p.conf.Path, p.conf.Args)
	start := time.Now()

	res := &Result{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("running %s: %w", p.conf.Path, ctx.Err())
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("running %s: %w", p.conf.Path, err)
		}
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	p.logger.Debug("Finished %s with exit code %d after %v",
		p.conf.Path, res.ExitCode, time.Since(start).Round(time.Millisecond))

	return res, nil
}
