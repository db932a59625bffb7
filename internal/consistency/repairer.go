package consistency

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// Mode selects whether a repair run mutates the store.
type Mode int

const (
	// DryRun reports what would be deleted, including the full prior value
	// for audit, without touching the store.
	DryRun Mode = iota
	// Apply deletes confirmed leaked records.
	Apply
)

func (m Mode) String() string {
	if m == Apply {
		return "apply"
	}
	return "dry-run"
}

// Outcome is the per-record result of a repair run.
type Outcome int

const (
	// OutcomeWouldDelete is reported in dry-run mode.
	OutcomeWouldDelete Outcome = iota
	// OutcomeDeleted means the leaked record was removed.
	OutcomeDeleted
	// OutcomeAlreadyGone means the key vanished between scan and repair,
	// typically because a concurrent repair got there first. Benign.
	OutcomeAlreadyGone
	// OutcomeShapeChanged means the key no longer matches the leak
	// predicate and was left alone.
	OutcomeShapeChanged
	// OutcomeFailed means the delete errored; Err carries the cause.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWouldDelete:
		return "would-delete"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAlreadyGone:
		return "already-gone"
	case OutcomeShapeChanged:
		return "shape-changed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result pairs a scanned record with what happened to it.
type Result struct {
	Record  model.LeakedReceiptRecord
	Outcome Outcome
	Err     error
}

// Repairer deletes leaked receipt records. Concurrent repair runs interleave
// safely: each record is re-validated against the live store immediately
// before deletion, and a record already removed by another actor counts as
// success.
type Repairer struct {
	store store.Store
	log   zerolog.Logger
}

// NewRepairer constructs a Repairer over the given store.
func NewRepairer(s store.Store, log zerolog.Logger) *Repairer {
	return &Repairer{store: s, log: log}
}

// Repair processes the scanned records under the given mode. The returned
// results are in input order, one per record. err is non-nil only when at
// least one record reports OutcomeFailed.
func (r *Repairer) Repair(ctx context.Context, records []model.LeakedReceiptRecord, mode Mode) ([]Result, error) {
	results := make([]Result, 0, len(records))
	var failed int
	for _, rec := range records {
		res := r.repairOne(ctx, rec, mode)
		if res.Outcome == OutcomeFailed {
			failed++
		}
		results = append(results, res)
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d records could not be repaired", failed, len(records))
	}
	return results, nil
}

func (r *Repairer) repairOne(ctx context.Context, rec model.LeakedReceiptRecord, mode Mode) Result {
	if mode == DryRun {
		return Result{Record: rec, Outcome: OutcomeWouldDelete}
	}

	// Re-check-then-act: a concurrent legitimate writer may have replaced
	// the key since the scan, and another repairer may have removed it.
	current, err := r.store.Read(ctx, rec.Key)
	if err != nil {
		return Result{Record: rec, Outcome: OutcomeFailed, Err: syncerr.Transport("read", rec.Key, err)}
	}
	if current == nil {
		r.log.Debug().Str("key", rec.Key).Msg("leaked record already removed")
		return Result{Record: rec, Outcome: OutcomeAlreadyGone}
	}
	if !treepath.IsLeaked(rec.Key, current) {
		r.log.Warn().Str("key", rec.Key).Msg("key changed shape since scan, leaving it alone")
		return Result{Record: rec, Outcome: OutcomeShapeChanged}
	}

	if err := r.store.Delete(ctx, rec.Key); err != nil {
		return Result{Record: rec, Outcome: OutcomeFailed, Err: syncerr.Transport("delete", rec.Key, err)}
	}
	r.log.Info().Str("key", rec.Key).Msg("deleted leaked receipt record")
	return Result{Record: rec, Outcome: OutcomeDeleted}
}
