// Package indexer keeps the post-receive hooks of a tree of bare git
// repositories pointed at the local postreceive endpoint. It rescans on
// a timer and on filesystem activity, installing hooks into new
// repositories and upgrading hooks written by older releases, while
// never touching hook files it did not generate.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/minicd/minicd/internal/tempfile"
	"github.com/minicd/minicd/logger"
)

const (
	// hookVersion is stamped into every generated hook. Bump it when
	// the body changes so existing installs are upgraded on the next
	// scan.
	hookVersion = 1

	hookMarker   = "# minicd::hookfile_version"
	hookFileName = "post-receive"
	lockFileName = ".minicd-index.lock"

	// DefaultInterval is the scan interval used when the configuration
	// does not set one.
	DefaultInterval = 30 * time.Second

	hookScript = `#!/bin/bash
# This file has been auto-generated by minicd.
` + hookMarker + ` {{.Version}}

while read old_commit new_commit ref_name; do
    curl -X POST http://127.0.0.1:{{.Port}}/api/postreceive \
        -d "{{.RepoPath}} $new_commit $ref_name"
done
`
)

var hookTmpl = template.Must(template.New("post-receive").Parse(hookScript))

type hookTemplateInput struct {
	Version  int
	Port     int
	RepoPath string
}

// Indexer walks a directory of bare git repositories and manages their
// post-receive hooks.
type Indexer struct {
	logger   logger.Logger
	repoDir  string
	port     int
	interval time.Duration
	flock    *flock.Flock
}

func New(l logger.Logger, repoDir string, port int, interval time.Duration) *Indexer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Indexer{
		logger:   l.WithFields(logger.StringField("component", "indexer")),
		repoDir:  repoDir,
		port:     port,
		interval: interval,
		flock:    flock.New(filepath.Join(repoDir, lockFileName)),
	}
}

// Run scans immediately, then rescans on every tick and whenever an
// entry appears under the repository root. It blocks until ctx is done.
func (i *Indexer) Run(ctx context.Context) error {
	events := i.watch(ctx)

	i.logger.Info("Indexing repositories under %s every %v", i.repoDir, i.interval)
	if err := i.Scan(ctx); err != nil {
		i.logger.Error("Repository scan failed: %v", err)
	}

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-events:
		}

		if err := i.Scan(ctx); err != nil {
			i.logger.Error("Repository scan failed: %v", err)
		}
	}
}

// watch returns a channel that receives whenever an entry is created
// under the repository root. When no watcher can be set up the indexer
// degrades to pure polling.
func (i *Indexer) watch(ctx context.Context) <-chan struct{} {
	events := make(chan struct{}, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		i.logger.Warn("Filesystem watch unavailable, relying on periodic scans: %v", err)
		return events
	}
	if err := w.Add(i.repoDir); err != nil {
		i.logger.Warn("Cannot watch %s, relying on periodic scans: %v", i.repoDir, err)
		_ = w.Close()
		return events
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				i.logger.Warn("Filesystem watch error: %v", err)
			}
		}
	}()

	return events
}

// Scan walks the repository root once, installing or upgrading hooks. A
// failure in one repository is logged and does not stop the walk.
// Concurrent scans are serialized through a file lock; when another
// process holds it the scan is skipped.
func (i *Indexer) Scan(ctx context.Context) error {
	locked, err := i.flock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", i.flock.Path(), err)
	}
	if !locked {
		i.logger.Debug("Another scan holds %s, skipping", i.flock.Path())
		return nil
	}
	defer func() {
		if err := i.flock.Unlock(); err != nil {
			i.logger.Warn("Releasing %s: %v", i.flock.Path(), err)
		}
	}()

	return filepath.WalkDir(i.repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			i.logger.Warn("Indexing %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Name() != "HEAD" {
			return nil
		}

		repo := filepath.Dir(path)
		if err := i.ensureHook(repo); err != nil {
			i.logger.Error("Installing hook for %s: %v", repo, err)
		}

		// HEAD sorts before the repository's subdirectories, so this
		// prunes the walk out of the object store.
		return fs.SkipDir
	})
}

// ensureHook installs or upgrades the post-receive hook of one bare
// repository. Hook files without our marker belong to the user and are
// left alone.
func (i *Indexer) ensureHook(repo string) error {
	hooksDir := filepath.Join(repo, "hooks")
	if _, err := os.Stat(hooksDir); errors.Is(err, fs.ErrNotExist) {
		i.logger.Debug("Skipping %s: no hooks directory", repo)
		return nil
	} else if err != nil {
		return err
	}

	target := filepath.Join(hooksDir, hookFileName)
	existing, err := os.ReadFile(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		switch v := hookFileVersion(existing); {
		case v < 0:
			i.logger.Debug("Leaving foreign post-receive hook in %s alone", repo)
			return nil
		case v >= hookVersion:
			return nil
		default:
			i.logger.Info("Upgrading post-receive hook in %s from version %d", repo, v)
		}
	}

	abs, err := filepath.Abs(repo)
	if err != nil {
		return err
	}

	f, err := tempfile.New(
		tempfile.WithDir(hooksDir),
		tempfile.WithName(hookFileName+"-*"),
		tempfile.WithPerms(0o755),
	)
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.WriteString(hookBody(abs, i.port)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	i.logger.Info("Installed post-receive hook in %s", repo)
	return nil
}

// hookBody renders the post-receive hook for a repository. The hook
// reports every pushed ref to the postreceive endpoint.
func hookBody(repoPath string, port int) string {
	var b strings.Builder
	// The template is static and the input is scalar, so Execute into a
	// builder cannot fail.
	_ = hookTmpl.Execute(&b, hookTemplateInput{
		Version:  hookVersion,
		Port:     port,
		RepoPath: repoPath,
	})
	return b.String()
}

// hookFileVersion reports the version stamped into a generated hook, or
// -1 for files we did not write.
func hookFileVersion(content []byte) int {
	for _, line := range strings.Split(string(content), "\n") {
		rest, ok := strings.CutPrefix(line, hookMarker)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			continue
		}
		return v
	}
	return -1
}
