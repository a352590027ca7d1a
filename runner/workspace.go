package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/minicd/minicd/logger"
)

// workspace is the disposable clone directory for one pipeline run. The
// pipeline holds a reference for its own lifetime and every detached job
// holds another, so the directory is removed by whichever holder finishes
// last. Workspaces live in the OS temp directory, never under the
// indexed repository root.
type workspace struct {
	logger logger.Logger
	path   string

	mu   sync.Mutex
	refs int
}

func newWorkspace(l logger.Logger) (*workspace, error) {
	path := filepath.Join(os.TempDir(), "minicd-"+uuid.NewString())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &workspace{logger: l, path: path, refs: 1}, nil
}

func (w *workspace) acquire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs++
}

func (w *workspace) release() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.refs--
	if w.refs > 0 {
		return
	}

	if err := os.RemoveAll(w.path); err != nil {
		w.logger.Warn("Failed to remove workspace %s: %v", w.path, err)
		return
	}
	w.logger.Debug("Removed workspace %s", w.path)
}
