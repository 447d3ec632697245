package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/metrics"
)

// Importer drives one end-to-end import for a single index binding:
// batched iteration of the data source, operation building, journaling,
// bulk execution and partial-failure recovery.
//
// Re-running Perform with the same source and no intervening change
// converges to the same document bodies; partial updates are idempotent
// with respect to the listed fields only.
type Importer struct {
	binding  *Binding
	store    driven.IndexStore
	journal  *Journal
	defaults domain.ImportOptions
	logger   *slog.Logger
	clock    func() time.Time
}

// ImporterConfig holds dependencies for Importer.
type ImporterConfig struct {
	Binding *Binding
	Store   driven.IndexStore
	Journal *Journal

	// Defaults are the engine-level global options, overlaid by the
	// index's type defaults and then the call options.
	Defaults domain.ImportOptions

	Logger *slog.Logger

	// Clock overrides time.Now in tests
	Clock func() time.Time
}

// NewImporter creates an importer for one binding.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Binding == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: importer needs a binding and a store", domain.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Importer{
		binding:  cfg.Binding,
		store:    cfg.Store,
		journal:  cfg.Journal,
		defaults: cfg.Defaults,
		logger:   logger,
		clock:    clock,
	}, nil
}

// Perform imports the records selected by scope. Per-document failures are
// collected in the result; only transport-level failures abort the call,
// and then nothing from the request in flight is recorded as applied.
func (imp *Importer) Perform(ctx context.Context, scope domain.Scope, opts domain.ImportOptions) (*domain.ImportResult, error) {
	started := imp.clock()
	index := imp.binding.Index
	effective := imp.defaults.Merge(index.Defaults).Merge(opts)

	if err := imp.ensureDestinations(ctx, effective); err != nil {
		return nil, err
	}

	transport, err := NewBulkTransport(BulkTransportConfig{
		Store:   imp.store,
		Index:   index.Name,
		MaxSize: effective.BulkMaxSize,
		Options: driven.BulkOptions{
			Refresh:     effective.RefreshEnabled(),
			Timeout:     effective.Timeout,
			Routing:     effective.Routing,
			Consistency: effective.Consistency,
		},
		Logger: imp.logger,
	})
	if err != nil {
		return nil, err
	}
	builder := NewOperationBuilder(imp.binding, imp.store, imp.logger)

	var result *domain.ImportResult
	if effective.Parallel > 1 {
		result, err = imp.performParallel(ctx, scope, effective, builder, transport)
	} else {
		result, err = imp.performSerial(ctx, scope, effective, builder, transport)
	}
	if err != nil {
		return nil, err
	}

	elapsed := imp.clock().Sub(started)
	metrics.ObserveImport(index.Name, result.Stats.Indexed, result.Stats.Deleted, len(result.Errors), elapsed)
	imp.logger.Info("import completed",
		"index", index.Name,
		"indexed", result.Stats.Indexed,
		"deleted", result.Stats.Deleted,
		"errors", len(result.Errors),
		"duration_seconds", elapsed.Seconds(),
	)
	return result, nil
}

// performSerial processes batches in order, carrying recovered full-index
// operations into the next batch's request.
func (imp *Importer) performSerial(
	ctx context.Context,
	scope domain.Scope,
	effective domain.ImportOptions,
	builder *OperationBuilder,
	transport *BulkTransport,
) (*domain.ImportResult, error) {
	result := &domain.ImportResult{}
	var carry []domain.Operation

	err := imp.binding.Source.Iterate(ctx, scope, effective.EffectiveBatchSize(), func(batch driven.Batch) error {
		newCarry, stats, errs, err := imp.processBatch(ctx, builder, transport, effective, batch, carry)
		if err != nil {
			return err
		}
		carry = newCarry
		result.Stats.Add(stats)
		result.Errors = append(result.Errors, errs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", imp.binding.Index.Name, err)
	}

	// Recovery from the last batch gets one final request of its own.
	if len(carry) > 0 {
		stats, errs, err := imp.execute(ctx, transport, carry)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", imp.binding.Index.Name, err)
		}
		result.Stats.Add(stats)
		result.Errors = append(result.Errors, errs...)
	}
	return result, nil
}

// performParallel processes batches concurrently. Recovery happens inline
// per batch (no cross-batch carry); stats and errors merge under one lock.
func (imp *Importer) performParallel(
	ctx context.Context,
	scope domain.Scope,
	effective domain.ImportOptions,
	builder *OperationBuilder,
	transport *BulkTransport,
) (*domain.ImportResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &domain.ImportResult{}
	batches := make(chan driven.Batch)

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < effective.Parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				carry, stats, errs, err := imp.processBatch(ctx, builder, transport, effective, batch, nil)
				if err != nil {
					fail(err)
					continue
				}
				if len(carry) > 0 {
					recStats, recErrs, err := imp.execute(ctx, transport, carry)
					if err != nil {
						fail(err)
						continue
					}
					stats.Add(recStats)
					errs = append(errs, recErrs...)
				}
				mu.Lock()
				result.Stats.Add(stats)
				result.Errors = append(result.Errors, errs...)
				mu.Unlock()
			}
		}()
	}

	iterErr := imp.binding.Source.Iterate(ctx, scope, effective.EffectiveBatchSize(), func(batch driven.Batch) error {
		select {
		case batches <- batch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(batches)
	wg.Wait()

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err == nil && iterErr != nil {
		err = iterErr
	}
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", imp.binding.Index.Name, err)
	}
	return result, nil
}

// processBatch builds and executes one batch's request: carried-over
// recovery operations first, then the batch's own operations, then the
// journal entries for the batch. It returns the recovery operations to
// prepend to the next request.
func (imp *Importer) processBatch(
	ctx context.Context,
	builder *OperationBuilder,
	transport *BulkTransport,
	effective domain.ImportOptions,
	batch driven.Batch,
	carry []domain.Operation,
) ([]domain.Operation, domain.ImportStats, []domain.ErrorItem, error) {
	var stats domain.ImportStats

	cs := &domain.Changeset{
		Upserts: batch.Upserts,
		Deletes: batch.Deletes,
		Fields:  effective.Fields,
	}
	build, err := builder.Build(ctx, cs)
	if err != nil {
		return nil, stats, nil, err
	}

	ops := append(append([]domain.Operation(nil), carry...), build.Operations...)
	if effective.JournalEnabled() && imp.journal != nil {
		ops = append(ops, imp.journal.Operations(imp.binding.Index.Name, build.UpsertIDs, build.DeleteIDs, imp.clock())...)
	}

	stats, items, err := imp.executeCounted(ctx, transport, ops)
	if err != nil {
		return nil, stats, nil, err
	}

	// Partial updates against missing documents are recovered by
	// re-issuing the full document with the next request. Only that
	// exact failure kind is recovered; everything else surfaces.
	var newCarry []domain.Operation
	if effective.FailoverEnabled() && cs.Partial() {
		var remaining []domain.ErrorItem
		var recoverObjects []any
		for _, item := range items {
			if item.Op == domain.OpUpdate && item.Kind == domain.DocumentMissing {
				if obj, ok := build.Objects[item.ID]; ok {
					recoverObjects = append(recoverObjects, obj)
					continue
				}
			}
			remaining = append(remaining, item)
		}
		items = remaining
		if len(recoverObjects) > 0 {
			// The recovered documents count when their full-index
			// operations execute with the next request.
			recovery, err := builder.Build(ctx, &domain.Changeset{Upserts: recoverObjects})
			if err != nil {
				return nil, stats, nil, err
			}
			newCarry = recovery.Operations
		}
	}

	return newCarry, stats, items, nil
}

// execute runs extra operations (recovery tails) and counts them.
func (imp *Importer) execute(ctx context.Context, transport *BulkTransport, ops []domain.Operation) (domain.ImportStats, []domain.ErrorItem, error) {
	stats, items, err := imp.executeCounted(ctx, transport, ops)
	return stats, items, err
}

// executeCounted executes ops and returns per-action counts with the
// failed items subtracted. Journal operations (per-operation index
// override) do not count toward document stats.
func (imp *Importer) executeCounted(ctx context.Context, transport *BulkTransport, ops []domain.Operation) (domain.ImportStats, []domain.ErrorItem, error) {
	var stats domain.ImportStats
	docOps := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Index != "" {
			continue
		}
		if op.Type == domain.OpDelete {
			stats.Deleted++
		} else {
			stats.Indexed++
		}
		docOps[string(op.Type)+"\x00"+op.ID] = true
	}

	items, err := transport.Execute(ctx, ops)
	if err != nil {
		return stats, nil, err
	}
	for _, item := range items {
		// Failed journal writes surface as errors but never touch the
		// document counts.
		if !docOps[string(item.Op)+"\x00"+item.ID] {
			continue
		}
		if item.Op == domain.OpDelete {
			stats.Deleted--
		} else {
			stats.Indexed--
		}
	}
	return stats, items, nil
}

// ensureDestinations creates the target index (and the journal index when
// journaling) unless lifecycle is externally managed.
func (imp *Importer) ensureDestinations(ctx context.Context, effective domain.ImportOptions) error {
	if effective.SkipIndexCreation {
		return nil
	}
	index := imp.binding.Index
	exists, err := imp.store.IndexExists(ctx, index.Name)
	if err != nil {
		return fmt.Errorf("index check %s: %w", index.Name, err)
	}
	if !exists {
		if err := imp.store.CreateIndex(ctx, index.Name, index.Settings); err != nil {
			return fmt.Errorf("create index %s: %w", index.Name, err)
		}
	}
	if effective.JournalEnabled() && imp.journal != nil {
		if err := imp.journal.EnsureIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}
