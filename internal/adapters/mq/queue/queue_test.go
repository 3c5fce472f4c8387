package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
)

func download(requestID string, attempt int) model.Command {
	return model.Command{
		Kind:      model.CommandDownload,
		RequestID: requestID,
		Attempt:   attempt,
		Candidate: model.ScoredCandidate{ID: "c-" + requestID, RequestID: requestID, Score: 120},
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if q.Cap() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Cap())
	}

	if !q.Enqueue(ctx, download("r1", 1)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	c := <-q.Dequeue(ctx)
	if c.RequestID != "r1" || c.Kind != model.CommandDownload {
		t.Errorf("unexpected command %+v", c)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, download("r1", 1)) || !q.Enqueue(ctx, download("r2", 1)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, download("r3", 1)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Order(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 5; i++ {
		q.Enqueue(ctx, download("r", i))
	}
	out := q.Dequeue(ctx)
	for i := 1; i <= 5; i++ {
		if c := <-out; c.Attempt != i {
			t.Fatalf("expected attempt %d, got %d", i, c.Attempt)
		}
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	numGoroutines := 10
	numCommands := 100

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numCommands; j++ {
				c := download(fmt.Sprintf("r%d", id), j)
				for !q.Enqueue(ctx, c) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- true
		}(i)
	}

	consumed := make(chan string, numGoroutines*numCommands)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			for c := range q.Dequeue(ctx) {
				consumed <- c.RequestID
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	timeout := time.After(2 * time.Second)
	for n := 0; n < numGoroutines*numCommands; n++ {
		select {
		case <-consumed:
		case <-timeout:
			t.Fatalf("only consumed %d commands", n)
		}
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, download("r1", 1)) || !q.Enqueue(ctx, download("r2", 1)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, download("r3", 1)) {
		t.Error("expected enqueue to fail after closing")
	}

	// Buffered commands are still delivered, then the channel closes.
	var drained int
	out := q.Dequeue(ctx)
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				if drained != 2 {
					t.Errorf("expected 2 drained commands, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}
