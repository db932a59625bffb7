// Package receipt writes seen-by marks to their canonical tree paths.
package receipt

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/decode"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

const defaultFanoutLimit = 8

// Writer marks messages as seen. Every write goes through the canonical path
// resolver; a Writer can never produce a leaked receipt.
type Writer struct {
	store       store.Store
	log         zerolog.Logger
	fanoutLimit int
}

// NewWriter constructs a Writer. fanoutLimit bounds concurrent writes in
// MarkThreadSeen; values below one select the default of 8.
func NewWriter(s store.Store, log zerolog.Logger, fanoutLimit int) *Writer {
	if fanoutLimit < 1 {
		fanoutLimit = defaultFanoutLimit
	}
	return &Writer{store: s, log: log, fanoutLimit: fanoutLimit}
}

// MarkSeen sets the canonical receipt for one message to true. Idempotent:
// the current value is read first and an already-true receipt produces no
// write, so mark-as-read bursts cost one round-trip per already-seen message.
func (w *Writer) MarkSeen(ctx context.Context, threadID, messageID, userID string) error {
	path, err := treepath.Receipt(threadID, messageID, userID)
	if err != nil {
		return err
	}
	cur, err := w.store.Read(ctx, path)
	if err != nil {
		return syncerr.Transport("read", path, err)
	}
	if b, ok := cur.(bool); ok && b {
		marksSkippedTotal.Inc()
		return nil
	}
	if err := w.store.Write(ctx, path, true); err != nil {
		return syncerr.Transport("write", path, err)
	}
	marksWrittenTotal.Inc()
	return nil
}

// MarkThreadSeen marks every message in the thread not yet seen by userID.
// Writes run concurrently up to the fan-out bound and are joined before the
// call returns. When a subset fails the error is a *syncerr.PartialFanoutError
// naming the failed message IDs; a later call retries exactly those because
// the succeeded messages are skipped by the seen check.
func (w *Writer) MarkThreadSeen(ctx context.Context, threadID, userID string) error {
	if !treepath.ValidKey(userID) {
		return fmt.Errorf("%w: user ID %q", syncerr.ErrInvalidIdentifier, userID)
	}
	threadPath, err := treepath.ThreadMessages(threadID)
	if err != nil {
		return err
	}
	raw, err := w.store.Read(ctx, threadPath)
	if err != nil {
		return syncerr.Transport("read", threadPath, err)
	}
	thread, dropped := decode.Thread(threadID, raw)
	if dropped > 0 {
		w.log.Debug().Str("thread", threadID).Int("dropped", dropped).
			Msg("skipped malformed messages during fan-out enumeration")
	}

	var unseen []string
	for _, m := range thread.Messages {
		if !m.SeenBy[userID] {
			unseen = append(unseen, m.MessageID)
		}
	}
	if len(unseen) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		wg     sync.WaitGroup
		sem    = make(chan struct{}, w.fanoutLimit)
	)
	for _, messageID := range unseen {
		wg.Add(1)
		go func(messageID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			path, err := treepath.Receipt(threadID, messageID, userID)
			if err == nil {
				// The enumeration read already established the receipt is
				// absent; write directly instead of re-reading per message.
				if werr := w.store.Write(ctx, path, true); werr != nil {
					err = syncerr.Transport("write", path, werr)
				}
			}
			if err != nil {
				mu.Lock()
				failed[messageID] = err
				mu.Unlock()
				fanoutFailuresTotal.Inc()
				return
			}
			marksWrittenTotal.Inc()
		}(messageID)
	}
	wg.Wait()

	if len(failed) > 0 {
		err := &syncerr.PartialFanoutError{ThreadID: threadID, Failed: failed}
		w.log.Warn().Str("thread", threadID).Str("user", userID).
			Strs("failed", err.FailedIDs()).Msg("thread mark-seen completed partially")
		return err
	}
	return nil
}
