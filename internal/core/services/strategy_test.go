package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven/mocks"
)

// importCall records one import triggered through the stack.
type importCall struct {
	index string
	ids   []string
}

type stackRecorder struct {
	imports      []importCall
	resolveCalls int
	importErr    error
}

func (r *stackRecorder) resolve(indexName string, objects []any) ([]string, error) {
	r.resolveCalls++
	var ids []string
	for _, obj := range objects {
		if s, ok := obj.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (r *stackRecorder) importIDs(ctx context.Context, indexName string, ids []string) (*domain.ImportResult, error) {
	if r.importErr != nil {
		return nil, r.importErr
	}
	r.imports = append(r.imports, importCall{index: indexName, ids: ids})
	return &domain.ImportResult{Stats: domain.ImportStats{Indexed: len(ids)}}, nil
}

func newTestStack(t *testing.T, root string) (*StrategyStack, *stackRecorder) {
	t.Helper()
	rec := &stackRecorder{}
	stack, err := NewStrategyStack(StrategyStackConfig{
		Resolve: rec.resolve,
		Import:  rec.importIDs,
		Queue:   mocks.NewMockTaskQueue(),
		Root:    root,
	})
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	return stack, rec
}

func TestNewStrategyStack_Validation(t *testing.T) {
	rec := &stackRecorder{}

	if _, err := NewStrategyStack(StrategyStackConfig{Import: rec.importIDs}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without resolve, got %v", err)
	}
	if _, err := NewStrategyStack(StrategyStackConfig{Resolve: rec.resolve}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without import, got %v", err)
	}
	if _, err := NewStrategyStack(StrategyStackConfig{Resolve: rec.resolve, Import: rec.importIDs, Root: "bogus"}); !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestStack_DefaultRootRejectsUpdates(t *testing.T) {
	stack, _ := newTestStack(t, "")

	if stack.Current().Name() != StrategyNone {
		t.Errorf("expected none as default root, got %s", stack.Current().Name())
	}
	err := stack.Update(context.Background(), "users", []any{"1"})
	if !errors.Is(err, domain.ErrNoStrategy) {
		t.Errorf("expected ErrNoStrategy, got %v", err)
	}
}

func TestStack_Disabled_DropsUpdates(t *testing.T) {
	stack, rec := newTestStack(t, StrategyDisabled)

	if err := stack.Update(context.Background(), "users", []any{"1", "2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.resolveCalls != 0 || len(rec.imports) != 0 {
		t.Errorf("expected no activity, got %d resolves and %v", rec.resolveCalls, rec.imports)
	}
}

func TestStack_Immediate_ImportsPerUpdate(t *testing.T) {
	stack, rec := newTestStack(t, StrategyImmediate)
	ctx := context.Background()

	if err := stack.Update(ctx, "users", []any{"1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"2"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(rec.imports) != 2 {
		t.Fatalf("expected one import per update, got %d", len(rec.imports))
	}
	if !reflect.DeepEqual(rec.imports[0].ids, []string{"1"}) {
		t.Errorf("unexpected first import: %v", rec.imports[0])
	}
}

func TestStack_Immediate_SkipsEmptyResolve(t *testing.T) {
	stack, rec := newTestStack(t, StrategyImmediate)

	// Non-string objects resolve to nothing.
	if err := stack.Update(context.Background(), "users", []any{42}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(rec.imports) != 0 {
		t.Errorf("expected no import for empty resolution, got %v", rec.imports)
	}
}

func TestStack_Buffered_DeduplicatesAndFlushesOnPop(t *testing.T) {
	stack, rec := newTestStack(t, StrategyNone)
	ctx := context.Background()

	if err := stack.Push(StrategyBuffered); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"2", "1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(rec.imports) != 0 {
		t.Fatalf("expected no import before pop, got %v", rec.imports)
	}

	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(rec.imports) != 1 {
		t.Fatalf("expected one flush import, got %d", len(rec.imports))
	}
	if !reflect.DeepEqual(rec.imports[0].ids, []string{"1", "2"}) {
		t.Errorf("expected deduplicated sorted ids, got %v", rec.imports[0].ids)
	}
}

func TestStack_Buffered_FlushOrderFollowsFirstSeen(t *testing.T) {
	stack, rec := newTestStack(t, StrategyNone)
	ctx := context.Background()

	if err := stack.Push(StrategyBuffered); err != nil {
		t.Fatalf("push: %v", err)
	}
	for _, update := range []importCall{
		{"comments", []string{"c1"}},
		{"users", []string{"u1"}},
		{"comments", []string{"c2"}},
	} {
		objects := make([]any, len(update.ids))
		for i, id := range update.ids {
			objects[i] = id
		}
		if err := stack.Update(ctx, update.index, objects); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop: %v", err)
	}

	if len(rec.imports) != 2 {
		t.Fatalf("expected one import per index, got %d", len(rec.imports))
	}
	if rec.imports[0].index != "comments" || rec.imports[1].index != "users" {
		t.Errorf("expected first-seen index order, got %v", rec.imports)
	}
}

func TestStack_Deferred_ResolvesOnlyAtLeave(t *testing.T) {
	stack, rec := newTestStack(t, StrategyNone)
	ctx := context.Background()

	if err := stack.Push(StrategyDeferred); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"1", "2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.resolveCalls != 0 {
		t.Fatalf("expected no eager resolution, got %d calls", rec.resolveCalls)
	}

	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if rec.resolveCalls != 1 {
		t.Errorf("expected one resolve per index at flush, got %d", rec.resolveCalls)
	}
	if len(rec.imports) != 1 || !reflect.DeepEqual(rec.imports[0].ids, []string{"1", "2"}) {
		t.Errorf("expected deduplicated flush, got %v", rec.imports)
	}
}

func TestStack_Queued_EnqueuesFlushTasks(t *testing.T) {
	rec := &stackRecorder{}
	queue := mocks.NewMockTaskQueue()
	stack, err := NewStrategyStack(StrategyStackConfig{
		Resolve: rec.resolve,
		Import:  rec.importIDs,
		Queue:   queue,
	})
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	ctx := context.Background()

	if err := stack.Push(StrategyQueued); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := stack.Update(ctx, "users", []any{"1", "2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop: %v", err)
	}

	if len(rec.imports) != 0 {
		t.Errorf("expected no synchronous import, got %v", rec.imports)
	}
	tasks := queue.Enqueued()
	if len(tasks) != 1 {
		t.Fatalf("expected one flush task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Type != domain.TaskTypeFlush || task.IndexName != "users" {
		t.Errorf("unexpected task: %+v", task)
	}
	if !reflect.DeepEqual(task.IDs, []string{"1", "2"}) {
		t.Errorf("expected deduplicated ids on the task, got %v", task.IDs)
	}
}

func TestStack_Queued_RequiresQueue(t *testing.T) {
	rec := &stackRecorder{}
	stack, err := NewStrategyStack(StrategyStackConfig{
		Resolve: rec.resolve,
		Import:  rec.importIDs,
	})
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	if err := stack.Push(StrategyQueued); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStack_Pop_Underflow(t *testing.T) {
	stack, _ := newTestStack(t, StrategyNone)

	if err := stack.Pop(context.Background()); !errors.Is(err, domain.ErrStackUnderflow) {
		t.Errorf("expected ErrStackUnderflow, got %v", err)
	}
}

func TestStack_Push_Unknown(t *testing.T) {
	stack, _ := newTestStack(t, StrategyNone)

	if err := stack.Push("nope"); !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
	if stack.Current().Name() != StrategyNone {
		t.Error("expected failed push to leave the stack untouched")
	}
}

func TestStack_Wrap(t *testing.T) {
	stack, rec := newTestStack(t, StrategyNone)
	ctx := context.Background()

	err := stack.Wrap(ctx, StrategyBuffered, func(ctx context.Context) error {
		return stack.Update(ctx, "users", []any{"1"})
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if len(rec.imports) != 1 {
		t.Errorf("expected flush on wrap exit, got %v", rec.imports)
	}
	if stack.Current().Name() != StrategyNone {
		t.Error("expected wrap to restore the base frame")
	}
}

func TestStack_Wrap_PopsOnError(t *testing.T) {
	stack, _ := newTestStack(t, StrategyNone)
	boom := fmt.Errorf("boom")

	err := stack.Wrap(context.Background(), StrategyBuffered, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected the callback error, got %v", err)
	}
	if stack.Current().Name() != StrategyNone {
		t.Error("expected frame popped despite the error")
	}
}

func TestStack_Wrap_FnErrorWinsOverLeaveError(t *testing.T) {
	rec := &stackRecorder{importErr: errors.New("import down")}
	stack, err := NewStrategyStack(StrategyStackConfig{
		Resolve: rec.resolve,
		Import:  rec.importIDs,
	})
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	boom := errors.New("boom")

	wrapErr := stack.Wrap(context.Background(), StrategyBuffered, func(ctx context.Context) error {
		if err := stack.Update(ctx, "users", []any{"1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(wrapErr, boom) {
		t.Errorf("expected callback error to win, got %v", wrapErr)
	}
}

func TestStack_NestedFrames(t *testing.T) {
	stack, rec := newTestStack(t, StrategyDisabled)
	ctx := context.Background()

	if err := stack.Push(StrategyBuffered); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := stack.Push(StrategyImmediate); err != nil {
		t.Fatalf("push: %v", err)
	}

	// Immediate frame imports right away.
	if err := stack.Update(ctx, "users", []any{"1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(rec.imports) != 1 {
		t.Fatalf("expected immediate import, got %d", len(rec.imports))
	}

	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop immediate: %v", err)
	}

	// Back in the buffered frame.
	if err := stack.Update(ctx, "users", []any{"2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := stack.Pop(ctx); err != nil {
		t.Fatalf("pop buffered: %v", err)
	}

	if len(rec.imports) != 2 {
		t.Fatalf("expected buffered flush after pop, got %d", len(rec.imports))
	}
	if !reflect.DeepEqual(rec.imports[1].ids, []string{"2"}) {
		t.Errorf("unexpected buffered flush: %v", rec.imports[1])
	}
}
