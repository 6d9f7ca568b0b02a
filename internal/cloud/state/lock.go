package state

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// LockStaleTimeout is how long a lock can be held before it's considered stale.
const LockStaleTimeout = 30 * time.Minute

// TransferLock represents an acquired per-file transfer lock.
type TransferLock struct {
	LockFilePath string
	ProcessID    int
	AcquiredAt   time.Time
}

type lockState struct {
	ProcessID  int       `json:"process_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	LocalPath  string    `json:"local_path"`
}

// AcquireLock takes an exclusive lock on localPath so two processes never
// transfer the same local file at once. Stale locks and locks whose owner
// has exited are taken over.
func AcquireLock(localPath string) (*TransferLock, error) {
	lockFilePath := localPath + ".blobxfer.lock"
	currentPID := os.Getpid()

	if data, err := os.ReadFile(lockFilePath); err == nil {
		var existing lockState
		if json.Unmarshal(data, &existing) == nil {
			age := time.Since(existing.AcquiredAt)
			if age < LockStaleTimeout && existing.ProcessID != currentPID && isProcessRunning(existing.ProcessID) {
				return nil, fmt.Errorf("%s is locked by another process (PID %d)", localPath, existing.ProcessID)
			}
		}
		os.Remove(lockFilePath)
	}

	lock := lockState{
		ProcessID:  currentPID,
		AcquiredAt: time.Now(),
		LocalPath:  localPath,
	}
	data, _ := json.MarshalIndent(lock, "", "  ")

	tmpFilePath := lockFilePath + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.Rename(tmpFilePath, lockFilePath); err != nil {
		os.Remove(tmpFilePath)
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	return &TransferLock{
		LockFilePath: lockFilePath,
		ProcessID:    currentPID,
		AcquiredAt:   lock.AcquiredAt,
	}, nil
}

// Release removes the lock unless another process has since taken it over.
func (l *TransferLock) Release() error {
	if l == nil {
		return nil
	}
	if data, err := os.ReadFile(l.LockFilePath); err == nil {
		var current lockState
		if json.Unmarshal(data, &current) == nil && current.ProcessID != l.ProcessID {
			return nil
		}
	}
	if err := os.Remove(l.LockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
