package core

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// ErrMalformed marks an operation that can never succeed as stored
var ErrMalformed = errors.New("malformed operation")

// Kind classifies a failed operation and decides what the dispatcher does next
type Kind int

const (
	// KindLocal is recorded on the operation, which is retried next pass
	KindLocal Kind = iota
	// KindGone means the message or folder no longer exists; the operation is dropped
	KindGone
	// KindMalformed means the operation cannot be executed; the operation is dropped
	KindMalformed
	// KindTransient ends the pass quietly so the operation is retried later
	KindTransient
	// KindStructural means the session is unusable; the pass ends with the error
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindGone:
		return "gone"
	case KindMalformed:
		return "malformed"
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	}
	return "local"
}

// AlertError is a server ALERT response that must be shown to the user
type AlertError struct {
	Message string
}

func (e *AlertError) Error() string {
	return "server alert: " + e.Message
}

// SendError wraps a failed submission
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classify maps an error to the dispatcher's handling kind
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindLocal
	case errors.Is(err, remote.ErrMessageRemoved), errors.Is(err, remote.ErrFolderNotFound):
		return KindGone
	case errors.Is(err, ErrMalformed), errors.Is(err, types.ErrInvalidArgs), errors.Is(err, remote.ErrNoUID):
		return KindMalformed
	case errors.Is(err, remote.ErrFolderClosed), errors.Is(err, context.Canceled):
		return KindStructural
	case isTimeout(err):
		return KindTransient
	}
	return KindLocal
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	var netErr net.Error
	var opErr *net.OpError
	return errors.As(err, &netErr) || errors.As(err, &opErr)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
