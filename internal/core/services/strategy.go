package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Strategy names. The set is closed; Push rejects anything else.
const (
	StrategyNone      = "none"
	StrategyDisabled  = "disabled"
	StrategyImmediate = "immediate"
	StrategyBuffered  = "buffered"
	StrategyDeferred  = "deferred"
	StrategyQueued    = "queued"
)

// ImportFunc triggers an import of specific ids for an index. The stack
// calls it when a policy decides a mutation becomes index work.
type ImportFunc func(ctx context.Context, indexName string, ids []string) (*domain.ImportResult, error)

// ResolveFunc derives document ids for objects of an index, dropping
// objects with no derivable id.
type ResolveFunc func(indexName string, objects []any) ([]string, error)

// Strategy is one update policy frame on the stack.
type Strategy interface {
	// Name identifies the policy
	Name() string

	// Update receives one mutation notification
	Update(ctx context.Context, indexName string, objects []any) error

	// Leave runs the frame's exit action (flush, forward or drop)
	Leave(ctx context.Context) error
}

// StrategyStack is a per-logical-context stack of update policies. It is
// owned by exactly one goroutine chain - create one per request or job via
// Engine.NewStack and never share it.
type StrategyStack struct {
	resolve  ResolveFunc
	importFn ImportFunc
	queue    driven.TaskQueue
	logger   *slog.Logger
	frames   []Strategy
}

// StrategyStackConfig holds dependencies for a strategy stack.
type StrategyStackConfig struct {
	Resolve  ResolveFunc
	Import   ImportFunc
	Queue    driven.TaskQueue // required only for the queued policy
	Logger   *slog.Logger
	Root     string // base policy name; empty means "none"
}

// NewStrategyStack creates a stack with the configured base policy.
func NewStrategyStack(cfg StrategyStackConfig) (*StrategyStack, error) {
	if cfg.Resolve == nil || cfg.Import == nil {
		return nil, fmt.Errorf("%w: strategy stack needs resolve and import functions", domain.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Root
	if root == "" {
		root = StrategyNone
	}
	s := &StrategyStack{
		resolve:  cfg.Resolve,
		importFn: cfg.Import,
		queue:    cfg.Queue,
		logger:   logger,
	}
	base, err := s.newStrategy(root)
	if err != nil {
		return nil, err
	}
	s.frames = []Strategy{base}
	return s, nil
}

// Current returns the active policy.
func (s *StrategyStack) Current() Strategy {
	return s.frames[len(s.frames)-1]
}

// Update forwards a mutation notification to the active policy.
func (s *StrategyStack) Update(ctx context.Context, indexName string, objects []any) error {
	return s.Current().Update(ctx, indexName, objects)
}

// Push enters a new policy frame.
func (s *StrategyStack) Push(name string) error {
	frame, err := s.newStrategy(name)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, frame)
	return nil
}

// Pop runs the current frame's leave action and discards the frame. The
// frame is discarded even when the leave action fails. Popping the base
// frame is a configuration error.
func (s *StrategyStack) Pop(ctx context.Context) error {
	if len(s.frames) <= 1 {
		return domain.ErrStackUnderflow
	}
	frame := s.Current()
	s.frames = s.frames[:len(s.frames)-1]
	return frame.Leave(ctx)
}

// Wrap runs fn inside a pushed frame and guarantees the frame is popped on
// the way out, error or not. The fn error wins over the leave error.
func (s *StrategyStack) Wrap(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := s.Push(name); err != nil {
		return err
	}
	fnErr := fn(ctx)
	popErr := s.Pop(ctx)
	if fnErr != nil {
		return fnErr
	}
	return popErr
}

func (s *StrategyStack) newStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyNone:
		return &noneStrategy{}, nil
	case StrategyDisabled:
		return &disabledStrategy{}, nil
	case StrategyImmediate:
		return &immediateStrategy{stack: s}, nil
	case StrategyBuffered:
		return newBufferedStrategy(s), nil
	case StrategyDeferred:
		return newDeferredStrategy(s), nil
	case StrategyQueued:
		if s.queue == nil {
			return nil, fmt.Errorf("%w: queued strategy needs a task queue", domain.ErrInvalidConfig)
		}
		return newQueuedStrategy(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}
}

// noneStrategy is the cheapest possible base: it rejects every update so
// callers must opt into a policy explicitly.
type noneStrategy struct{}

func (*noneStrategy) Name() string { return StrategyNone }

func (*noneStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	return fmt.Errorf("%w: wrap the mutation in a strategy before updating %s", domain.ErrNoStrategy, indexName)
}

func (*noneStrategy) Leave(ctx context.Context) error { return nil }

// disabledStrategy drops every update. Nothing is buffered or sent.
type disabledStrategy struct{}

func (*disabledStrategy) Name() string { return StrategyDisabled }

func (*disabledStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	return nil
}

func (*disabledStrategy) Leave(ctx context.Context) error { return nil }

// immediateStrategy imports synchronously, scoped to exactly the objects
// of each update call.
type immediateStrategy struct {
	stack *StrategyStack
}

func (*immediateStrategy) Name() string { return StrategyImmediate }

func (st *immediateStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	ids, err := st.stack.resolve(indexName, objects)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = st.stack.importFn(ctx, indexName, ids)
	return err
}

func (*immediateStrategy) Leave(ctx context.Context) error { return nil }

// accumulator unions resolved ids per index, preserving first-seen index
// order for deterministic flushes.
type accumulator struct {
	ids   map[string]map[string]struct{}
	order []string
}

func newAccumulator() *accumulator {
	return &accumulator{ids: make(map[string]map[string]struct{})}
}

func (a *accumulator) add(indexName string, ids []string) {
	set, ok := a.ids[indexName]
	if !ok {
		set = make(map[string]struct{})
		a.ids[indexName] = set
		a.order = append(a.order, indexName)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (a *accumulator) drain() map[string][]string {
	result := make(map[string][]string, len(a.ids))
	for name, set := range a.ids {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		result[name] = ids
	}
	a.ids = make(map[string]map[string]struct{})
	a.order = nil
	return result
}

// bufferedStrategy resolves ids eagerly and accumulates them per index;
// no network activity happens until the frame is popped.
type bufferedStrategy struct {
	stack *StrategyStack
	acc   *accumulator
}

func newBufferedStrategy(stack *StrategyStack) *bufferedStrategy {
	return &bufferedStrategy{stack: stack, acc: newAccumulator()}
}

func (*bufferedStrategy) Name() string { return StrategyBuffered }

func (st *bufferedStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	ids, err := st.stack.resolve(indexName, objects)
	if err != nil {
		return err
	}
	st.acc.add(indexName, ids)
	return nil
}

func (st *bufferedStrategy) Leave(ctx context.Context) error {
	order := append([]string(nil), st.acc.order...)
	drained := st.acc.drain()
	for _, indexName := range order {
		ids := drained[indexName]
		if len(ids) == 0 {
			continue
		}
		if _, err := st.stack.importFn(ctx, indexName, ids); err != nil {
			return err
		}
	}
	return nil
}

// deferredStrategy buffers raw mutation notifications and resolves them
// to ids only at flush time, for high-churn attributes where resolving
// eagerly is wasted work.
type deferredStrategy struct {
	stack   *StrategyStack
	objects map[string][]any
	order   []string
}

func newDeferredStrategy(stack *StrategyStack) *deferredStrategy {
	return &deferredStrategy{stack: stack, objects: make(map[string][]any)}
}

func (*deferredStrategy) Name() string { return StrategyDeferred }

func (st *deferredStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	if _, ok := st.objects[indexName]; !ok {
		st.order = append(st.order, indexName)
	}
	st.objects[indexName] = append(st.objects[indexName], objects...)
	return nil
}

func (st *deferredStrategy) Leave(ctx context.Context) error {
	acc := newAccumulator()
	for _, indexName := range st.order {
		ids, err := st.stack.resolve(indexName, st.objects[indexName])
		if err != nil {
			return err
		}
		acc.add(indexName, ids)
	}
	drained := acc.drain()
	for _, indexName := range st.order {
		ids := drained[indexName]
		if len(ids) == 0 {
			continue
		}
		if _, err := st.stack.importFn(ctx, indexName, ids); err != nil {
			return err
		}
	}
	st.objects = make(map[string][]any)
	st.order = nil
	return nil
}

// queuedStrategy accumulates like buffered but hands the flush to the
// task queue: fire-and-forget, at-least-once enqueue, no ordering
// guarantee across distinct frames.
type queuedStrategy struct {
	stack *StrategyStack
	acc   *accumulator
}

func newQueuedStrategy(stack *StrategyStack) *queuedStrategy {
	return &queuedStrategy{stack: stack, acc: newAccumulator()}
}

func (*queuedStrategy) Name() string { return StrategyQueued }

func (st *queuedStrategy) Update(ctx context.Context, indexName string, objects []any) error {
	ids, err := st.stack.resolve(indexName, objects)
	if err != nil {
		return err
	}
	st.acc.add(indexName, ids)
	return nil
}

func (st *queuedStrategy) Leave(ctx context.Context) error {
	order := append([]string(nil), st.acc.order...)
	drained := st.acc.drain()
	var tasks []*domain.Task
	for _, indexName := range order {
		ids := drained[indexName]
		if len(ids) == 0 {
			continue
		}
		tasks = append(tasks, domain.NewFlushTask(indexName, ids))
	}
	if len(tasks) == 0 {
		return nil
	}
	return st.stack.queue.EnqueueBatch(ctx, tasks)
}
