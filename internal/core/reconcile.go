package core

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// Window returns the start of the reconciliation window and the retention
// cutoff, both at local midnight and never before the epoch. The retention
// window is always at least one day longer than the reconciliation window.
func Window(now time.Time, syncDays, keepDays int) (syncFrom, keepFrom time.Time) {
	if keepDays == syncDays {
		keepDays++
	}
	return midnight(now, syncDays), midnight(now, keepDays)
}

func midnight(now time.Time, daysAgo int) time.Time {
	y, m, d := now.AddDate(0, 0, -daysAgo).Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if t.Before(time.Unix(0, 0)) {
		return time.Unix(0, 0)
	}
	return t
}

// SynchronizeMessages reconciles the folder's cached messages with the
// remote folder within the requested window, then optionally downloads
// content of the messages it saw.
func (e *Engine) SynchronizeMessages(ctx context.Context, s *Session, a types.SyncArgs) error {
	folder, rf := s.Folder, s.Remote
	log := e.folderLogger(s.Account, folder)
	q := e.store.Q()

	if err := q.SetFolderSyncState(ctx, folder.ID, strPtr(StateSyncing)); err != nil {
		return err
	}
	defer func() {
		if err := e.store.Q().SetFolderSyncState(context.WithoutCancel(ctx), folder.ID, nil); err != nil {
			log.WithError(err).Warn("Failed to clear sync state")
		}
	}()

	syncFrom, keepFrom := Window(time.Now(), a.SyncDays, a.KeepDays)
	log.WithFields(logrus.Fields{"sync": syncFrom, "keep": keepFrom}).Info("Synchronizing messages")

	old, err := q.GetMessagesBefore(ctx, folder.ID, keepFrom.UnixMilli())
	if err != nil {
		return err
	}
	if err := e.deleteAll(ctx, old); err != nil {
		return err
	}

	local, err := q.GetUIDs(ctx, folder.ID)
	if err != nil {
		return err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = syncFrom
	if rf.HasPermanentFlag(imap.FlaggedFlag) {
		criteria = remote.SinceCriteria(syncFrom)
	}
	uids, err := rf.Search(ctx, criteria)
	if err != nil {
		return err
	}
	flagged, err := rf.Fetch(ctx, uids, remote.FetchFlags)
	if err != nil {
		return err
	}
	byUID := make(map[uint32]*remote.Message, len(flagged))
	for _, rm := range flagged {
		byUID[rm.UID] = rm
	}
	present := uids[:0]
	for _, uid := range uids {
		if _, ok := byUID[uid]; ok {
			present = append(present, uid)
		}
	}
	uids = present
	log.WithFields(logrus.Fields{"old": len(old), "local": len(local), "remote": len(uids)}).Debug("Listed messages")

	if err := e.deleteVanished(ctx, s, local, byUID); err != nil {
		return err
	}

	rules, err := q.GetEnabledRules(ctx, folder.ID)
	if err != nil {
		return err
	}

	ids := make(map[uint32]int64, len(uids))
	for i := len(uids) - 1; i >= 0 && s.running(); i -= batchSize {
		from := max(0, i-batchSize+1)
		batch := uids[from : i+1]
		if err := e.mergeBatch(ctx, s, batch, byUID, rules, ids); err != nil {
			return err
		}
	}

	orphans, err := q.GetOrphans(ctx, folder.ID)
	if err != nil {
		return err
	}
	if err := e.deleteAll(ctx, orphans); err != nil {
		return err
	}
	if len(orphans) > 0 {
		log.WithField("count", len(orphans)).Debug("Deleted orphans")
	}

	if folder.Type == types.FolderSent {
		if err := e.fileSentOrphans(ctx, s); err != nil {
			return err
		}
	}

	if a.Download {
		if err := q.SetFolderSyncState(ctx, folder.ID, strPtr(StateDownloading)); err != nil {
			return err
		}
		if err := e.downloadAll(ctx, s, uids, ids); err != nil {
			return err
		}
	}

	return q.SetFolderSynchronized(ctx, folder.ID, cache.Now(), s.running())
}

// deleteVanished drops cached messages whose uid the server no longer has.
// Uids outside the search window are confirmed with a uid fetch first.
func (e *Engine) deleteVanished(ctx context.Context, s *Session, local []uint32, seen map[uint32]*remote.Message) error {
	var residual []uint32
	for _, uid := range local {
		if _, ok := seen[uid]; !ok {
			residual = append(residual, uid)
		}
	}
	if len(residual) == 0 {
		return nil
	}

	present, err := s.Remote.UIDFetch(ctx, residual)
	if err != nil {
		return err
	}
	exists := make(map[uint32]bool, len(present))
	for _, uid := range present {
		exists[uid] = true
	}

	q := e.store.Q()
	for _, uid := range residual {
		if exists[uid] {
			continue
		}
		msg, err := q.GetMessageByUID(ctx, s.Folder.ID, uid)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		e.folderLogger(s.Account, s.Folder).WithField("uid", uid).Debug("Deleting vanished message")
		if err := e.deleteLocal(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// mergeBatch merges one batch newest first, fetching headers only for uids
// the cache does not know yet. Each message is merged in its own transaction.
func (e *Engine) mergeBatch(ctx context.Context, s *Session, batch []uint32, byUID map[uint32]*remote.Message, rules []types.Rule, ids map[uint32]int64) error {
	log := e.folderLogger(s.Account, s.Folder)

	var missing []uint32
	for _, uid := range batch {
		msg, err := e.store.Q().GetMessageByUID(ctx, s.Folder.ID, uid)
		if err != nil {
			return err
		}
		if msg == nil {
			missing = append(missing, uid)
		}
	}
	if len(missing) > 0 {
		full, err := s.Remote.Fetch(ctx, missing, remote.FetchHeaders)
		if err != nil {
			return err
		}
		for _, rm := range full {
			byUID[rm.UID] = rm
		}
	}

	for j := len(batch) - 1; j >= 0 && s.running(); j-- {
		rm, ok := byUID[batch[j]]
		if !ok {
			continue
		}
		var merged *types.Message
		err := e.store.InTx(ctx, func(q *cache.Queries) error {
			m, err := e.SynchronizeMessage(ctx, q, s, rm, false, rules)
			merged = m
			return err
		})
		rm.Release()

		switch {
		case err == nil:
			ids[rm.UID] = merged.ID
		case errors.Is(err, remote.ErrMessageRemoved):
			log.WithField("uid", rm.UID).Debug("Message removed while merging")
		case Classify(err) == KindStructural:
			return err
		default:
			log.WithError(err).WithField("uid", rm.UID).Warn("Failed to merge message")
			if err := e.store.Q().SetFolderError(ctx, s.Folder.ID, errString(err)); err != nil {
				return err
			}
		}
	}
	return nil
}

// fileSentOrphans moves submitted outbox messages into the Sent folder and
// queues their upload
func (e *Engine) fileSentOrphans(ctx context.Context, s *Session) error {
	return e.store.InTx(ctx, func(q *cache.Queries) error {
		orphans, err := q.GetSentOrphans(ctx, s.Account.ID)
		if err != nil {
			return err
		}
		for _, orphan := range orphans {
			e.folderLogger(s.Account, s.Folder).WithField("message", orphan.ID).Info("Adding sent orphan")
			if err := q.SetMessageFolder(ctx, orphan.ID, s.Folder.ID); err != nil {
				return err
			}
			if _, err := q.QueueOperation(ctx, s.Folder.ID, &orphan.ID, types.AddArgs{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// downloadAll downloads the merged messages newest first, each in its own transaction
func (e *Engine) downloadAll(ctx context.Context, s *Session, uids []uint32, ids map[uint32]int64) error {
	log := e.folderLogger(s.Account, s.Folder)
	var total int64
	for i := len(uids) - 1; i >= 0 && s.running(); i-- {
		id, ok := ids[uids[i]]
		if !ok {
			continue
		}
		var n int64
		err := e.store.InTx(ctx, func(q *cache.Queries) error {
			var err error
			n, err = e.DownloadMessage(ctx, q, s, uids[i], id)
			return err
		})
		if err != nil {
			if Classify(err) == KindStructural {
				return err
			}
			log.WithError(err).WithField("uid", uids[i]).Warn("Failed to download message")
			continue
		}
		total += n
	}
	if total > 0 {
		log.WithField("size", humanize.Bytes(uint64(total))).Info("Downloaded content")
	}
	return nil
}
