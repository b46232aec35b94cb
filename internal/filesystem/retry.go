// Package filesystem wraps the file operations used on stored media objects
// (stat, open and rename) with retries for stale NFS file handles.
package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"mediaref/internal/logging"
)

// RetryConfig bounds the retries of one operation.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// VolumeResolver labels metrics; nil falls back to the default resolver.
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig suits an NFS mount that recovers within a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c RetryConfig) volume(path string) string {
	if c.VolumeResolver != nil {
		return c.VolumeResolver.Resolve(path)
	}
	return defaultResolver.Resolve(path)
}

// isNFSStaleError reports whether err wraps ESTALE.
func isNFSStaleError(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ESTALE
}

// withRetry runs op until it succeeds, fails with anything but ESTALE, or
// has been retried MaxRetries times. Backoff doubles up to MaxBackoff.
func withRetry(opName, path string, config RetryConfig, op func() error) error {
	obs := observe()
	volume := config.volume(path)
	began := time.Now()
	defer func() {
		obs.ObserveRetryDuration(opName, volume, time.Since(began).Seconds())
	}()

	wait := config.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		switch {
		case err == nil:
			if attempt > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", opName, attempt, path)
				obs.ObserveRetrySuccess(opName, volume)
			}
			return nil
		case !isNFSStaleError(err):
			return err
		}

		obs.ObserveStaleError(opName, volume)
		if attempt >= config.MaxRetries {
			logging.Warn("NFS %s failed after %d retries for %s: %v", opName, config.MaxRetries, path, err)
			obs.ObserveRetryFailure(opName, volume)
			return err
		}

		obs.ObserveRetryAttempt(opName, volume)
		logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
			opName, path, wait, attempt+1, config.MaxRetries)
		time.Sleep(wait)
		wait = min(wait*2, config.MaxBackoff)
	}
}

// StatWithRetry is os.Stat with stale handle retries.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	var info os.FileInfo
	err := withRetry("stat", path, config, func() (err error) {
		info, err = os.Stat(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// OpenWithRetry is os.Open with stale handle retries.
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	var f *os.File
	err := withRetry("open", path, config, func() (err error) {
		f, err = os.Open(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RenameWithRetry is os.Rename with stale handle retries. An existing target
// is never replaced.
func RenameWithRetry(oldPath, newPath string, config RetryConfig) error {
	if _, err := os.Lstat(newPath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: os.ErrExist}
	}
	return withRetry("rename", oldPath, config, func() error {
		return os.Rename(oldPath, newPath)
	})
}

// Exists reports whether path can be stat'ed.
func Exists(path string, config RetryConfig) bool {
	_, err := StatWithRetry(path, config)
	return err == nil
}
