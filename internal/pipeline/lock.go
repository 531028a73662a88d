package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// RunLock serializes concurrent runs of the same stage. The state store is
// single-writer per stage per run; interleaved writes would corrupt the index.
type RunLock struct {
	path string
}

// AcquireRunLock takes the per-stage lock, failing if another run holds it.
// A stale lock left by a crashed run must be removed manually (the error
// names the file).
func AcquireRunLock(dataDir, stage string) (*RunLock, error) {
	dir := filepath.Join(dataDir, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state dir: %w", err)
	}

	path := filepath.Join(dir, stage+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("stage %s already running (lock file %s held)", stage, path)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	return &RunLock{path: path}, nil
}

// Release drops the lock.
func (l *RunLock) Release() error {
	return os.Remove(l.path)
}
