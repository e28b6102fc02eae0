package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"removed", fmt.Errorf("uid 4: %w", remote.ErrMessageRemoved), KindGone},
		{"folder not found", remote.ErrFolderNotFound, KindGone},
		{"malformed", malformed("message ID missing"), KindMalformed},
		{"bad args", fmt.Errorf("%w: kind seen", types.ErrInvalidArgs), KindMalformed},
		{"no uid", remote.ErrNoUID, KindMalformed},
		{"closed", fmt.Errorf("fetch: %w", remote.ErrFolderClosed), KindStructural},
		{"canceled", context.Canceled, KindStructural},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"net timeout", timeoutError{}, KindTransient},
		{"server refusal", errors.New("NO [OVERQUOTA]"), KindLocal},
		{"send", &SendError{Err: errors.New("550 rejected")}, KindLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestReportError(t *testing.T) {
	h := newHarness(t)
	n := &recordingNotifier{}
	h.engine.SetNotifier(n)

	h.engine.ReportError(h.account, nil, errors.New("BAD command"))
	h.engine.ReportError(h.account, nil, &AlertError{Message: "account locked"})
	h.engine.ReportError(h.account, nil, &SendError{Err: errors.New("550")})
	assert.Equal(t, []string{"Server alert", "Sending failed"}, n.titles)

	n.titles = nil
	h.engine.settings.Debug = true
	h.engine.ReportError(h.account, nil, errors.New("BAD command"))
	h.engine.ReportError(h.account, nil, remote.ErrMessageRemoved)
	h.engine.ReportError(h.account, nil, timeoutError{})
	assert.Equal(t, []string{"Synchronization failed"}, n.titles)
}
