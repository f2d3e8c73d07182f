package pipeline

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// LockFile guards a reports directory against concurrent runs. Concurrent
// writers would break the atomic-rename guarantees, so a second invocation
// against the same directory must fail fast, never interleave.
const LockFile = ".reconcile.lock"

// ErrRunInFlight is returned when another run holds the directory lock.
var ErrRunInFlight = eris.New("pipeline: run already in flight for this reports directory")

type runLock struct {
	path string
}

// acquireRunLock takes an exclusive lock on the reports directory by
// creating the lock file with O_EXCL. The file holds the owning pid so an
// operator can identify (and, after a crash, remove) a stale lock.
func acquireRunLock(reportsDir string) (*runLock, error) {
	path := filepath.Join(reportsDir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrRunInFlight
		}
		return nil, eris.Wrapf(err, "pipeline: create lock %s", path)
	}

	_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(path)
		return nil, eris.Wrapf(errFirst(writeErr, closeErr), "pipeline: write lock %s", path)
	}

	return &runLock{path: path}, nil
}

func (l *runLock) release() {
	_ = os.Remove(l.path)
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
