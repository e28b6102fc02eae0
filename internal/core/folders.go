package core

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// gmailHost is polled instead of idled
const gmailHost = "imap.gmail.com"

// SynchronizeFolders applies pending local folder creations and deletions to
// the server and then mirrors the server's folder list into the cache.
// Local-only folders such as the outbox are left alone.
func (e *Engine) SynchronizeFolders(ctx context.Context, account *types.Account, store remote.Store) error {
	log := e.logger.WithField("account", account.Name)

	listed, err := store.ListFolders(ctx)
	if err != nil {
		return err
	}
	exists := make(map[string]bool, len(listed))
	for _, info := range listed {
		exists[info.Name] = true
	}

	local, err := e.store.Q().ListFolders(ctx, account.ID)
	if err != nil {
		return err
	}
	changed := false
	for _, f := range local {
		switch {
		case f.TBC:
			if !exists[f.Name] {
				log.WithField("folder", f.Name).Info("Creating folder")
				if err := store.CreateFolder(ctx, f.Name); err != nil {
					return err
				}
				changed = true
			}
			if err := e.store.Q().ResetFolderTBC(ctx, f.ID); err != nil {
				return err
			}
		case f.TBD:
			if exists[f.Name] {
				log.WithField("folder", f.Name).Info("Deleting folder")
				if err := store.DeleteFolder(ctx, f.Name); err != nil {
					return err
				}
				changed = true
			}
			if err := e.store.Q().DeleteFolder(ctx, f.ID); err != nil {
				return err
			}
		}
	}
	if changed {
		if listed, err = store.ListFolders(ctx); err != nil {
			return err
		}
	}

	return e.store.InTx(ctx, func(q *cache.Queries) error {
		return e.mirrorFolders(ctx, q, account, listed, log)
	})
}

func (e *Engine) mirrorFolders(ctx context.Context, q *cache.Queries, account *types.Account, listed []remote.FolderInfo, log *logrus.Entry) error {
	local, err := q.ListFolders(ctx, account.ID)
	if err != nil {
		return err
	}
	stale := make(map[string]int64, len(local))
	for _, f := range local {
		if f.Type != types.FolderOutbox {
			stale[f.Name] = f.ID
		}
	}

	for _, info := range listed {
		folderType := types.FolderType(info.Attributes, info.Name)
		if folderType == "" {
			continue
		}
		delete(stale, info.Name)

		level := 0
		if info.Delimiter != "" {
			level = strings.Count(info.Name, info.Delimiter)
		}
		display := displayName(account, info)

		existing, err := q.GetFolderByName(ctx, account.ID, info.Name)
		if err != nil {
			return err
		}
		if existing == nil {
			f := &types.Folder{
				AccountID:   account.ID,
				Name:        info.Name,
				Display:     display,
				Type:        folderType,
				Level:       level,
				Synchronize: synchronizedByDefault(folderType),
				Poll:        account.Host == gmailHost,
				SyncDays:    types.DefaultSyncDays,
				KeepDays:    types.DefaultKeepDays,
			}
			if _, err := q.InsertFolder(ctx, f); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"folder": f.Name, "type": f.Type}).Info("Added folder")
			continue
		}
		if err := q.SetFolderProperties(ctx, existing.ID, display, folderType, level); err != nil {
			return err
		}
	}

	for name, id := range stale {
		log.WithField("folder", name).Info("Removing folder gone from server")
		if err := q.DeleteFolder(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// displayName strips the account's namespace prefix from a folder name
func displayName(account *types.Account, info remote.FolderInfo) *string {
	if account.Prefix == nil || info.Delimiter == "" {
		return nil
	}
	prefix := *account.Prefix + info.Delimiter
	if !strings.HasPrefix(info.Name, prefix) {
		return nil
	}
	return strPtr(strings.TrimPrefix(info.Name, prefix))
}

func synchronizedByDefault(folderType string) bool {
	switch folderType {
	case types.FolderInbox, types.FolderDrafts, types.FolderSent:
		return true
	}
	return false
}
