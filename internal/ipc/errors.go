package ipc

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed means no request could be delivered to the helper.
	ErrConnectionFailed = errors.New("helper connection failed")

	// ErrInterrupted means the helper went away mid-call.
	ErrInterrupted = fmt.Errorf("%w: connection interrupted", ErrConnectionFailed)

	// ErrClosed means the channel or client was closed locally.
	ErrClosed = fmt.Errorf("%w: connection closed", ErrConnectionFailed)

	ErrReadFailed    = errors.New("failed to read hosts file")
	ErrWriteFailed   = errors.New("failed to write hosts file")
	ErrBackupFailed  = errors.New("failed to back up hosts file")
	ErrRestoreFailed = errors.New("failed to restore hosts file")
)

// transportError makes err match ErrConnectionFailed.
func transportError(err error) error {
	if errors.Is(err, ErrConnectionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}
