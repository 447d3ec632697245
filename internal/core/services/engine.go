package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Engine is the top-level façade over the synchronization machinery. It
// owns the store connection, the index registry, the journal and the
// global import defaults, and hands out per-context strategy stacks.
type Engine struct {
	store    driven.IndexStore
	registry *Registry
	journal  *Journal
	queue    driven.TaskQueue
	defaults domain.ImportOptions
	logger   *slog.Logger
}

// EngineConfig holds dependencies for Engine.
type EngineConfig struct {
	Store    driven.IndexStore
	Registry *Registry

	// Queue is required only when the queued strategy or the worker is
	// used.
	Queue driven.TaskQueue

	// JournalIndex overrides the journal's system index name
	JournalIndex string

	// Defaults are the engine-global import options
	Defaults domain.ImportOptions

	Logger *slog.Logger
}

// NewEngine creates the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: engine needs an index store", domain.ErrInvalidConfig)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: engine needs a registry", domain.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		journal:  NewJournal(cfg.Store, cfg.JournalIndex),
		queue:    cfg.Queue,
		defaults: cfg.Defaults,
		logger:   logger,
	}, nil
}

// Registry exposes the index registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Journal exposes the journal.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// Queue exposes the task queue, nil when none is configured.
func (e *Engine) Queue() driven.TaskQueue {
	return e.queue
}

// Import runs one import for the named index over the given scope.
func (e *Engine) Import(ctx context.Context, indexName string, scope domain.Scope, opts domain.ImportOptions) (*domain.ImportResult, error) {
	binding, err := e.registry.Get(indexName)
	if err != nil {
		return nil, err
	}
	importer, err := NewImporter(ImporterConfig{
		Binding:  binding,
		Store:    e.store,
		Journal:  e.journal,
		Defaults: e.defaults,
		Logger:   e.logger,
	})
	if err != nil {
		return nil, err
	}
	return importer.Perform(ctx, scope, opts)
}

// ImportIDs imports exactly the given document ids.
func (e *Engine) ImportIDs(ctx context.Context, indexName string, ids []string, opts domain.ImportOptions) (*domain.ImportResult, error) {
	return e.Import(ctx, indexName, ids, opts)
}

// ApplyJournal replays the journal from since. Re-imports run with
// journaling forced off so replay cannot feed itself.
func (e *Engine) ApplyJournal(ctx context.Context, since time.Time, opts ApplyOptions) (*ApplyResult, error) {
	applier, err := NewApplier(e.journal, func(ctx context.Context, indexName string, ids []string) (*domain.ImportResult, error) {
		return e.ImportIDs(ctx, indexName, ids, domain.ImportOptions{Journal: domain.Bool(false)})
	}, e.logger)
	if err != nil {
		return nil, err
	}
	return applier.Since(ctx, since, opts)
}

// CleanJournal removes journal entries older than until (retention
// sweep) and returns the number deleted.
func (e *Engine) CleanJournal(ctx context.Context, until time.Time) (int, error) {
	return e.journal.Clean(ctx, until)
}

// NewStack creates a strategy stack for one logical context (request or
// job). Stacks are never shared across goroutine chains.
func (e *Engine) NewStack(root string) (*StrategyStack, error) {
	return NewStrategyStack(StrategyStackConfig{
		Resolve: e.resolveIDs,
		Import: func(ctx context.Context, indexName string, ids []string) (*domain.ImportResult, error) {
			return e.ImportIDs(ctx, indexName, ids, domain.ImportOptions{})
		},
		Queue:  e.queue,
		Logger: e.logger,
		Root:   root,
	})
}

// HealthCheck verifies the store (and queue, when configured) are
// reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index store: %w", err)
	}
	if e.queue != nil {
		if err := e.queue.Ping(ctx); err != nil {
			return fmt.Errorf("task queue: %w", err)
		}
	}
	return nil
}

// resolveIDs derives document ids for objects of the named index, using
// the index's custom id function when declared and the data source's
// identification otherwise. Objects with no derivable id are dropped.
func (e *Engine) resolveIDs(indexName string, objects []any) ([]string, error) {
	binding, err := e.registry.Get(indexName)
	if err != nil {
		return nil, err
	}
	var ids []string
	if binding.Index.IDFor != nil {
		for _, obj := range objects {
			if id, ok := binding.Index.IDFor(obj); ok {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	for _, id := range binding.Source.Identify(objects) {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
