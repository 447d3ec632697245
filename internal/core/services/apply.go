package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/metrics"
)

// DefaultApplyRetries is the journal replay pass budget when none is
// configured.
const DefaultApplyRetries = 10

// ApplyOptions tune one journal replay.
type ApplyOptions struct {
	// Retries is the maximum number of passes before giving up. Zero
	// means the default budget.
	Retries int

	// Once requests exactly one pass.
	Once bool

	// OnlyIndexes restricts replay to a subset of indices.
	OnlyIndexes []string
}

// ApplyResult reports one journal replay. A replay that runs out of
// passes without converging is not an error: Drained stays false and the
// caller decides whether to alert.
type ApplyResult struct {
	// Passes is the number of replay passes executed
	Passes int `json:"passes"`

	// Drained reports whether the journal converged (an empty pass)
	Drained bool `json:"drained"`

	// Imported counts re-imported documents per index
	Imported map[string]int `json:"imported,omitempty"`

	// Checkpoint is the final replay position
	Checkpoint time.Time `json:"checkpoint"`

	// Errors are the per-document failures surfaced by the re-imports
	Errors []domain.ErrorItem `json:"errors,omitempty"`
}

// Applier replays journal entries from a checkpoint forward until the
// journal is empty or the pass budget runs out, re-importing affected
// documents with journaling forced off.
type Applier struct {
	journal  *Journal
	importFn ImportFunc
	logger   *slog.Logger
}

// NewApplier creates a journal applier. importFn must import with
// journaling disabled, or replay would feed itself forever.
func NewApplier(journal *Journal, importFn ImportFunc, logger *slog.Logger) (*Applier, error) {
	if journal == nil || importFn == nil {
		return nil, fmt.Errorf("%w: applier needs a journal and an import function", domain.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{journal: journal, importFn: importFn, logger: logger}, nil
}

// Since replays the journal from the given checkpoint. Transport-level
// failures abort the replay; per-document failures accumulate in the
// result.
func (a *Applier) Since(ctx context.Context, since time.Time, opts ApplyOptions) (*ApplyResult, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultApplyRetries
	}
	if opts.Once {
		retries = 1
	}

	result := &ApplyResult{
		Imported:   make(map[string]int),
		Checkpoint: since,
	}
	var previous []*domain.JournalEntry

	for pass := 0; pass < retries; pass++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		fetched, err := a.journal.Entries(ctx, result.Checkpoint, opts.OnlyIndexes)
		if err != nil {
			return result, err
		}

		grouped := domain.GroupEntries(fetched)
		pending := domain.SubtractEntries(grouped, previous)
		if len(pending) == 0 {
			result.Drained = true
			return result, nil
		}

		result.Passes++
		metrics.ObserveJournalPass()
		a.logger.Info("journal replay pass",
			"pass", result.Passes,
			"entries", len(pending),
			"checkpoint", result.Checkpoint,
		)

		var importErrs error
		for _, entry := range pending {
			ids := make([]string, 0, len(entry.References))
			for _, ref := range entry.References {
				id, err := domain.DecodeReference(ref)
				if err != nil {
					a.logger.Warn("dropping malformed journal reference", "index", entry.IndexName, "error", err)
					continue
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				continue
			}

			res, err := a.importFn(ctx, entry.IndexName, ids)
			if err != nil {
				importErrs = multierror.Append(importErrs, fmt.Errorf("replay %s: %w", entry.IndexName, err))
				continue
			}
			result.Imported[entry.IndexName] += res.Stats.Indexed + res.Stats.Deleted
			result.Errors = append(result.Errors, res.Errors...)
		}
		if importErrs != nil {
			return result, importErrs
		}

		// Advance past everything seen this pass; remember the pass so
		// entries that have not rotated out yet are not reprocessed.
		for _, entry := range grouped {
			if entry.CreatedAt.After(result.Checkpoint) {
				result.Checkpoint = entry.CreatedAt
			}
		}
		previous = grouped

		if opts.Once {
			break
		}
	}

	a.logger.Warn("journal not fully drained",
		"passes", result.Passes,
		"checkpoint", result.Checkpoint,
	)
	return result, nil
}
