package core

import (
	"context"
	"errors"

	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// ReportError decides whether a failure reaches the user. Send failures and
// server alerts always do; in debug mode so does anything that is not a
// routine connectivity or concurrency condition.
func (e *Engine) ReportError(account *types.Account, folder *types.Folder, err error) {
	if e.notifier == nil || err == nil {
		return
	}

	var sendErr *SendError
	var alert *AlertError
	switch {
	case errors.As(err, &sendErr):
		e.notifier.Notify(account, folder, "Sending failed", err)
	case errors.As(err, &alert):
		e.notifier.Notify(account, folder, "Server alert", err)
	case e.settings.Debug && !routine(err):
		e.notifier.Notify(account, folder, "Synchronization failed", err)
	}
}

func routine(err error) bool {
	return errors.Is(err, remote.ErrMessageRemoved) ||
		errors.Is(err, remote.ErrFolderClosed) ||
		errors.Is(err, context.Canceled) ||
		isTimeout(err) ||
		isNetwork(err)
}
