package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LockFileName is created in the storage dir and held while a process uses it.
const LockFileName = "repocron.lock"

// DirLock is an advisory lock on the storage dir.
//
// The daemon holds it exclusively; one-shot commands hold it shared, so they
// can run side by side but never next to the daemon.
type DirLock struct {
	f         *os.File
	exclusive bool
}

// LockHolder describes the process holding an exclusive lock.
type LockHolder struct {
	Role string
	PID  int
}

// LockDir takes the lock without blocking. role is recorded for exclusive
// holders so a refused caller can tell who has the dir. A held lock yields
// an error wrapping ErrLocked.
func LockDir(dir, role string, exclusive bool) (*DirLock, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flock(f, exclusive); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			if exclusive {
				return nil, fmt.Errorf("%w: in use by another process", ErrLocked)
			}
			// A refused shared lock means an exclusive holder wrote the file.
			holder, _ := ReadLockHolder(dir)
			return nil, fmt.Errorf("%w by %s (pid %d)", ErrLocked, holder.Role, holder.PID)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if exclusive {
		if err := f.Truncate(0); err == nil {
			_, _ = f.WriteAt([]byte(role+" "+strconv.Itoa(os.Getpid())+"\n"), 0)
		}
	}
	return &DirLock{f: f, exclusive: exclusive}, nil
}

// ReadLockHolder reports the last exclusive holder recorded in dir. It is
// current only while a shared lock attempt is being refused.
func ReadLockHolder(dir string) (LockHolder, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./data"
	}
	b, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return LockHolder{}, err
	}
	role, pid, _ := strings.Cut(strings.TrimSpace(string(b)), " ")
	n, _ := strconv.Atoi(pid)
	return LockHolder{Role: role, PID: n}, nil
}

func (l *DirLock) Exclusive() bool { return l != nil && l.exclusive }

// Release drops the lock. It is safe on a nil lock.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := funlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
