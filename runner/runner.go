// Package runner implements the clone-and-execute pipeline behind the
// post-receive endpoint: clone the pushed repository into a workspace,
// read its .minicd manifest and run every job selected by the pushed
// reference, delivering email and webhook notifications along the way.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/minicd/minicd/definition"
	"github.com/minicd/minicd/internal/tempfile"
	"github.com/minicd/minicd/logger"
	"github.com/minicd/minicd/mail"
	"github.com/minicd/minicd/metrics"
	"github.com/minicd/minicd/process"
	"github.com/minicd/minicd/secrets"
	"github.com/minicd/minicd/webhook"
)

// ErrNoDefinitionFile is returned when the cloned repository has no
// .minicd manifest at its root.
var ErrNoDefinitionFile = errors.New("no definition file")

// ScriptError reports a job script that exited non-zero.
type ScriptError struct {
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("script exited with code %d", e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// GitClient is the part of the git driver the pipeline uses.
type GitClient interface {
	Clone(ctx context.Context, remote, dir string) error
	Checkout(ctx context.Context, dir, ref string) error
	ResolveRefName(ctx context.Context, dir, ref string) (string, error)
}

// Config assembles the pipeline's collaborators. Secrets, Webhooks, Git
// and Metrics must be non-nil; a nil Mailer disables email targets with
// a warning per notification.
type Config struct {
	Secrets  *secrets.Store
	Mailer   *mail.Mailer
	Webhooks *webhook.Notifier
	Git      GitClient
	Metrics  *metrics.Collector

	// DefaultShell runs job scripts that do not declare a shell of
	// their own. An empty runner falls back to /bin/sh.
	DefaultShell definition.ShellLine
}

// Runner owns the pipeline. All collaborators are read-only after New,
// so a single Runner is shared across concurrent requests.
type Runner struct {
	logger    logger.Logger
	conf      Config
	secretEnv []string

	// bgCtx governs detached jobs; Shutdown cancels it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	detached sync.WaitGroup
}

func New(l logger.Logger, c Config) *Runner {
	if c.DefaultShell.Runner == "" {
		c.DefaultShell.Runner = "/bin/sh"
	}

	env := c.Secrets.Env()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	secretEnv := make([]string, 0, len(keys))
	for _, k := range keys {
		secretEnv = append(secretEnv, k+"="+env[k])
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Runner{
		logger:    l.WithFields(logger.StringField("component", "runner")),
		conf:      c,
		secretEnv: secretEnv,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// Run executes the pipeline for one push event. It returns once every
// await:true job has finished; the remaining jobs are detached onto
// background goroutines and their results are only logged. Job failures
// are consumed by notifications, so an error here always means the run
// never got as far as executing jobs.
func (r *Runner) Run(ctx context.Context, remote, commit, refName string) error {
	ref, err := definition.ParseRef(refName)
	if err != nil {
		return err
	}

	ws, err := newWorkspace(r.logger)
	if err != nil {
		return err
	}
	defer ws.release()

	r.logger.Info("Processing push of %s (%s) from %s", ref, commit, remote)
	r.conf.Metrics.Count("runs", 1)

	if err := r.conf.Git.Clone(ctx, remote, ws.path); err != nil {
		return err
	}
	if err := r.conf.Git.Checkout(ctx, ws.path, commit); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(ws.path, definition.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoDefinitionFile
	} else if err != nil {
		return fmt.Errorf("reading definition file: %w", err)
	}

	def, err := definition.Parse(data)
	if err != nil {
		return err
	}

	resolved, err := r.conf.Git.ResolveRefName(ctx, ws.path, commit)
	if err != nil {
		r.logger.Debug("No friendly name for %s: %v", commit, err)
		resolved = ""
	}

	return def.Jobs.Range(func(id string, job *definition.Job) error {
		if job.On != nil && !job.On.Matches(ref) {
			r.logger.Debug("Skipping job %s: %s filter %q does not match %s", id, job.On.Kind, job.On.Name, ref)
			return nil
		}

		o := outcome{
			project:  def.Name,
			job:      id,
			ref:      ref,
			commit:   commit,
			resolved: resolved,
		}

		if job.Await {
			r.runJob(ctx, id, job, ws.path, o)
			return nil
		}

		ws.acquire()
		r.detached.Add(1)
		go func() {
			defer r.detached.Done()
			defer ws.release()
			r.runJob(r.bgCtx, id, job, ws.path, o)
		}()
		return nil
	})
}

// Shutdown cancels detached jobs and waits for them to wind down, or
// until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.bgCancel()

	done := make(chan struct{})
	go func() {
		r.detached.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob walks one job through its states: fire start notifications, run
// the script, then fire success or failure notifications. Everything
// that goes wrong past this point is logged, never returned.
func (r *Runner) runJob(ctx context.Context, id string, job *definition.Job, dir string, o outcome) {
	jl := r.logger.WithFields(
		logger.StringField("project", o.project),
		logger.StringField("job", id),
	)
	jl.Info("Starting job")

	o.state = definition.StateStart
	r.notify(ctx, jl, job, o)

	start := time.Now()
	res, err := r.runScript(ctx, job, dir)
	elapsed := time.Since(start)
	r.conf.Metrics.Timing("job.duration", elapsed, "job:"+id)

	if err == nil && res.ExitCode != 0 {
		err = &ScriptError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	dur := logger.DurationField("duration", elapsed)
	if err != nil {
		jl.WithFields(dur).Error("Job failed: %v", err)
		r.conf.Metrics.Count("jobs.failure", 1)
		o.state = definition.StateFailure
		o.context = err.Error()
	} else {
		jl.WithFields(dur).Info("Job finished successfully")
		r.conf.Metrics.Count("jobs.success", 1)
		o.state = definition.StateSuccess
		o.context = res.Stdout
	}
	r.notify(ctx, jl, job, o)
}

// notify fires every notification matching the outcome's state, in
// declaration order. A failing target is logged and does not stop the
// remaining targets.
func (r *Runner) notify(ctx context.Context, l logger.Logger, job *definition.Job, o outcome) {
	notifies, ok := job.NotifyFor(o.state)
	if !ok {
		return
	}

	for _, n := range notifies {
		for _, target := range n.To {
			if err := r.notifyTarget(ctx, target, o); err != nil {
				l.Error("Failed to send %s notification: %v", o.state, err)
				r.conf.Metrics.Count("notifications.failed", 1)
			}
		}
	}
}

func (r *Runner) notifyTarget(ctx context.Context, target definition.Target, o outcome) error {
	switch target.Type {
	case definition.TargetEmail:
		if r.conf.Mailer == nil {
			r.logger.Warn("Skipping email notification: no mail transport is configured")
			return nil
		}
		to := r.conf.Secrets.Replace(target.Address)
		return r.conf.Mailer.Send(ctx, to, o.subject(), o.body())

	case definition.TargetWebhook:
		return r.conf.Webhooks.Send(ctx, target.URL, target.Method, target.Headers)

	default:
		return fmt.Errorf("unknown notification target type %q", target.Type)
	}
}

// runScript writes the job's run block to a temp file and hands it to
// the job's shell, or to the default shell when none is declared. The
// script runs in the workspace with the secret environment appended.
func (r *Runner) runScript(ctx context.Context, job *definition.Job, dir string) (*process.Result, error) {
	shell := r.conf.DefaultShell
	if job.Shell != nil {
		shell = *job.Shell
	}

	f, err := tempfile.New(tempfile.WithName("minicd-script-*"))
	if err != nil {
		return nil, fmt.Errorf("creating script file: %w", err)
	}
	script := f.Name()
	defer os.Remove(script)

	if _, err := f.WriteString(job.Run); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("writing script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing script file: %w", err)
	}

	p := process.New(r.logger, process.Config{
		Path: shell.Runner,
		Args: append(slices.Clone(shell.Args), script),
		Dir:  dir,
		Env:  append(os.Environ(), r.secretEnv...),
	})
	return p.Run(ctx)
}
