// Package tempfile creates temporary files with configurable name, location
// and permissions. The runner uses it for script files, the indexer for
// atomic hook installation.
package tempfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const allRWX = 0o777

type request struct {
	filename string
	dir      string
	perm     fs.FileMode
}

type Opts func(*request)

// WithName sets the filename pattern of the temporary file.
func WithName(filename string) Opts {
	return func(r *request) {
		r.filename = filename
	}
}

// WithDir sets the directory to contain the temporary file. A relative dir
// is taken relative to the system temporary directory ([os.TempDir]).
func WithDir(dir string) Opts {
	return func(r *request) {
		r.dir = dir
	}
}

// WithPerms sets the permissions of the temporary file.
func WithPerms(perms fs.FileMode) Opts {
	return func(r *request) {
		r.perm = perms
	}
}

// New creates a temporary file with the provided options.
func New(opts ...Opts) (*os.File, error) {
	req := &request{}
	for _, opt := range opts {
		opt(req)
	}

	dir := os.TempDir()
	if req.dir != "" {
		if filepath.IsAbs(req.dir) {
			dir = filepath.Clean(req.dir)
		} else {
			dir = filepath.Join(dir, req.dir)
		}
	}

	// umask will make perms more reasonable
	if err := os.MkdirAll(dir, allRWX); err != nil {
		return nil, fmt.Errorf("failed to create temporary directory %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, req.filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file %q: %w", req.filename, err)
	}

	if req.perm != 0 {
		if err := f.Chmod(req.perm); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to chmod temporary file %q: %w", f.Name(), err)
		}
	}

	return f, nil
}
