package client

import (
	"context"

	"github.com/m3loqt/unihealth-app-sub008/internal/journal"
	"github.com/m3loqt/unihealth-app-sub008/internal/opqueue"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// sessionRemote bridges the notification cache to the store. Every mutation
// is journaled first, then queued on the session's executor keyed by the
// feed path so mutations run in issuance order. The journal row is removed
// and the cache acknowledged only after the store confirms the write.
type sessionRemote struct {
	s *Session
}

func (r *sessionRemote) MarkRead(ctx context.Context, notificationID string) error {
	path, err := treepath.Notification(r.s.userID, notificationID)
	if err != nil {
		return err
	}
	return r.submit(ctx, notificationID, journal.KindWrite, treepath.Join(path, "read"), true)
}

func (r *sessionRemote) Delete(ctx context.Context, notificationID string) error {
	path, err := treepath.Notification(r.s.userID, notificationID)
	if err != nil {
		return err
	}
	return r.submit(ctx, notificationID, journal.KindDelete, path, nil)
}

func (r *sessionRemote) submit(ctx context.Context, notificationID string, kind journal.Kind, path string, value any) error {
	s := r.s

	var rowID int64
	if s.journal != nil {
		var err error
		switch kind {
		case journal.KindWrite:
			rowID, err = s.journal.AppendWrite(ctx, s.userID, path, value)
		case journal.KindDelete:
			rowID, err = s.journal.AppendDelete(ctx, s.userID, path)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("journal append failed; mutation not durable")
		}
	}

	return s.exec.Submit(ctx, s.feedPath, opqueue.OpFunc(func(runCtx context.Context) error {
		var err error
		switch kind {
		case journal.KindWrite:
			err = s.store.Write(runCtx, path, value)
		case journal.KindDelete:
			err = s.store.Delete(runCtx, path)
		}
		if err != nil {
			return err
		}
		s.cache.Ack(notificationID)
		if s.journal != nil && rowID != 0 {
			return s.journal.Ack(runCtx, rowID)
		}
		return nil
	}))
}
