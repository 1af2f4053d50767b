package scheduler

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type workspaceLock struct {
	path string
}

// acquireLock creates path exclusively. A leftover lock from a crashed
// process has to be removed by hand (rtmpipe-executor unlock).
func acquireLock(path string) (*workspaceLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (%s)", ErrWorkspaceBusy, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("creating lock %s: %w", path, err)
	}
	fmt.Fprintf(f, "pid %d since %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &workspaceLock{path: path}, nil
}

func (l *workspaceLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ForceUnlock removes a stale lock file.
func ForceUnlock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
