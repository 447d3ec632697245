package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func setupTestQueue(t *testing.T) (*Queue, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	queue, err := NewQueue(client, "test-worker")
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return queue, client
}

func TestNewQueue_RequiresClient(t *testing.T) {
	if _, err := NewQueue(nil, "test-worker"); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestEnqueueDequeue(t *testing.T) {
	queue, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1", "2"})
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("expected a task")
	}
	if got.ID != task.ID {
		t.Errorf("expected task %s, got %s", task.ID, got.ID)
	}
	if got.Status != domain.TaskStatusProcessing {
		t.Errorf("expected processing status, got %s", got.Status)
	}
	if got.IndexName != "users" || len(got.IDs) != 2 {
		t.Errorf("task payload lost: %+v", got)
	}
}

func TestEnqueueBatch(t *testing.T) {
	queue, _ := setupTestQueue(t)
	ctx := context.Background()

	tasks := []*domain.Task{
		domain.NewFlushTask("users", []string{"1"}),
		domain.NewFlushTask("comments", []string{"2"}),
	}
	if err := queue.EnqueueBatch(ctx, tasks); err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		got, err := queue.DequeueWithTimeout(ctx, 1)
		if err != nil || got == nil {
			t.Fatalf("dequeue %d: %v / %v", i, got, err)
		}
		seen[got.IndexName] = true
	}
	if !seen["users"] || !seen["comments"] {
		t.Errorf("expected both tasks dequeued, got %v", seen)
	}
}

func TestAck(t *testing.T) {
	queue, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1"})
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue: %v / %v", got, err)
	}

	if err := queue.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stored, err := queue.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Status != domain.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}

func TestNack_ReschedulesRetryableTask(t *testing.T) {
	queue, client := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1"})
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue: %v / %v", got, err)
	}

	if err := queue.Nack(ctx, got.ID, "store unavailable"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	stored, err := queue.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Status != domain.TaskStatusPending {
		t.Errorf("expected pending for retry, got %s", stored.Status)
	}
	if stored.Error != "store unavailable" {
		t.Errorf("expected reason recorded, got %q", stored.Error)
	}

	scheduled, err := client.ZCard(ctx, scheduledTasks).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if scheduled != 1 {
		t.Errorf("expected task in the scheduled set, got %d", scheduled)
	}
}

func TestNack_FailsExhaustedTask(t *testing.T) {
	queue, client := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1"})
	task.Attempts = task.MaxAttempts
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue: %v / %v", got, err)
	}

	if err := queue.Nack(ctx, got.ID, "still broken"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	stored, err := queue.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}

	scheduled, _ := client.ZCard(ctx, scheduledTasks).Result()
	if scheduled != 0 {
		t.Errorf("expected no reschedule, got %d entries", scheduled)
	}
}

func TestEnqueue_ScheduledTaskWaits(t *testing.T) {
	queue, client := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1"})
	task.ScheduledFor = time.Now().Add(time.Hour)
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != nil {
		t.Errorf("expected scheduled task not yet visible, got %+v", got)
	}

	scheduled, _ := client.ZCard(ctx, scheduledTasks).Result()
	if scheduled != 1 {
		t.Errorf("expected task in the scheduled set, got %d", scheduled)
	}
}

func TestDequeue_PromotesDueScheduledTasks(t *testing.T) {
	queue, client := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewFlushTask("users", []string{"1"})
	task.ScheduledFor = time.Now().Add(time.Hour)
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Make the task due by rewriting its score.
	if err := client.ZAdd(ctx, scheduledTasks, goredis.Z{
		Score:  float64(time.Now().Add(-time.Minute).Unix()),
		Member: task.ID,
	}).Err(); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatalf("expected promoted task, got %+v", got)
	}

	scheduled, _ := client.ZCard(ctx, scheduledTasks).Result()
	if scheduled != 0 {
		t.Errorf("expected scheduled set drained, got %d", scheduled)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	queue, _ := setupTestQueue(t)

	task, err := queue.GetTask(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil for unknown task, got %+v", task)
	}
}

func TestStats(t *testing.T) {
	queue, _ := setupTestQueue(t)
	ctx := context.Background()

	for _, index := range []string{"users", "comments"} {
		if err := queue.Enqueue(ctx, domain.NewFlushTask(index, []string{"1"})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	stats, err := queue.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Errorf("expected 2 pending, got %d", stats.PendingCount)
	}

	got, err := queue.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue: %v / %v", got, err)
	}
	if err := queue.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stats, err = queue.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CompletedCount != 1 {
		t.Errorf("expected 1 completed, got %d", stats.CompletedCount)
	}
}

func TestPing(t *testing.T) {
	queue, _ := setupTestQueue(t)
	if err := queue.Ping(context.Background()); err != nil {
		t.Errorf("expected healthy ping, got %v", err)
	}
}
