package core

import (
	"context"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// DownloadMessage eagerly caches the body and attachments of a message when
// the network allows it. The full source is fetched at most once. It returns
// the number of bytes stored.
func (e *Engine) DownloadMessage(ctx context.Context, q *cache.Queries, s *Session, uid uint32, id int64) (int64, error) {
	msg, err := q.GetMessage(ctx, id)
	if err != nil || msg == nil {
		return 0, err
	}
	attachments, err := q.GetAttachments(ctx, id)
	if err != nil {
		return 0, err
	}

	wantBody := !msg.Content && e.fits(msg.Size)
	var want []*types.Attachment
	for i := range attachments {
		a := &attachments[i]
		if !a.Available && e.fits(a.Size) {
			want = append(want, a)
		}
	}
	if !wantBody && len(want) == 0 {
		return 0, nil
	}

	rm, err := fetchOne(ctx, s.Remote, uid, remote.FetchFull)
	if err != nil {
		return 0, err
	}
	defer rm.Release()

	p, err := parts.Parse(rm.Body)
	if err != nil {
		return 0, err
	}

	var stored int64
	if wantBody {
		if err := e.storeBody(ctx, q, msg, p); err != nil {
			return stored, err
		}
		stored += int64(len(rm.Body))
	}
	for _, a := range want {
		if err := e.storeAttachment(ctx, q, p, a); err != nil {
			e.folderLogger(s.Account, s.Folder).WithError(err).WithField("sequence", a.Sequence).Warn("Failed to download attachment")
			break
		}
		if a.Size != nil {
			stored += *a.Size
		}
	}
	return stored, nil
}
