// internal/capture/lock.go
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// lockPollInterval is how often a blocked acquire retries.
const lockPollInterval = 100 * time.Millisecond

// lockFileName is the per-repo lock file inside the data dir.
const lockFileName = ".capture.lock"

// repoLock serializes captures per repository. Concurrent captures would
// race on the read-append-write note update and produce duplicate
// ordinals; git notes has no transactional append.
type repoLock struct {
	path string
	fd   int
}

// acquireLock takes the per-repo flock, polling until the deadline. The
// lock file is opened O_NOFOLLOW with 0600 permissions so a symlink
// planted at the path cannot redirect the open.
func acquireLock(dir string, timeout time.Duration) (*repoLock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, types.Capture(types.SubLockTimeout,
			fmt.Sprintf("cannot create lock directory %s", dir),
			"check permissions on the data directory", err)
	}
	path := filepath.Join(dir, lockFileName)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, types.Capture(types.SubLockTimeout,
			fmt.Sprintf("cannot open lock file %s", path),
			"remove the file if it is a symlink or owned by another user", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &repoLock{path: path, fd: fd}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			unix.Close(fd)
			return nil, types.Capture(types.SubLockTimeout,
				fmt.Sprintf("flock on %s failed", path),
				"check the filesystem supports advisory locks", err)
		}
		if time.Now().After(deadline) {
			unix.Close(fd)
			return nil, types.Capture(types.SubLockTimeout,
				fmt.Sprintf("another capture holds the lock for this repository (waited %s)", timeout),
				"retry shortly; if this persists, check for a hung capture process", nil)
		}
		time.Sleep(lockPollInterval)
	}
}

// release drops the flock. The lock file itself is left in place; unlink
// plus flock is a known race.
func (l *repoLock) release() {
	if l == nil || l.fd < 0 {
		return
	}
	unix.Flock(l.fd, unix.LOCK_UN)
	unix.Close(l.fd)
	l.fd = -1
}
