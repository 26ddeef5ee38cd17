package connection

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func frame(i int) Frame {
	return Frame{Command: CommandMessage, Destination: fmt.Sprintf("/topic/%d", i)}
}

func TestOutbox_BasicPushPop(t *testing.T) {
	out := NewOutbox(10, 0)

	for i := 0; i < 5; i++ {
		if err := out.Push(frame(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}

	if out.Len() != 5 {
		t.Errorf("Len() = %d, want 5", out.Len())
	}

	for i := 0; i < 5; i++ {
		f, ok := out.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for frame %d", i)
		}
		if f.Destination != frame(i).Destination {
			t.Errorf("popped %q, want %q", f.Destination, frame(i).Destination)
		}
	}

	if _, ok := out.TryPop(); ok {
		t.Error("TryPop() on empty outbox returned true")
	}
}

func TestOutbox_GrowAt70Percent(t *testing.T) {
	out := NewOutbox(10, 0)

	for i := 0; i < 7; i++ {
		out.Push(frame(i))
	}

	stats := out.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	frames, ok := out.Next(0)
	if !ok {
		t.Fatal("Next() returned false")
	}
	for i, f := range frames {
		if f.Destination != frame(i).Destination {
			t.Errorf("frame %d = %q, want %q", i, f.Destination, frame(i).Destination)
		}
	}
}

func TestOutbox_GrowsAcrossWrap(t *testing.T) {
	out := NewOutbox(4, 0)

	// Move head forward so the next grow copies a wrapped ring.
	out.Push(frame(0))
	out.Push(frame(1))
	out.TryPop()
	out.TryPop()

	for i := 2; i < 40; i++ {
		if err := out.Push(frame(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}

	for i := 2; i < 40; i++ {
		f, ok := out.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for frame %d", i)
		}
		if f.Destination != frame(i).Destination {
			t.Fatalf("popped %q, want %q", f.Destination, frame(i).Destination)
		}
	}
}

func TestOutbox_CeilingClosesAsSlowConsumer(t *testing.T) {
	out := NewOutbox(2, 4)

	for i := 0; i < 4; i++ {
		if err := out.Push(frame(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}
	if out.Cap() != 4 {
		t.Errorf("Cap() = %d, want clamp at 4", out.Cap())
	}

	if err := out.Push(frame(4)); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("Push over ceiling error = %v, want ErrSlowConsumer", err)
	}
	if !out.Closed() {
		t.Error("outbox still open after overflow")
	}
	if !errors.Is(out.Err(), ErrSlowConsumer) {
		t.Errorf("Err() = %v, want ErrSlowConsumer", out.Err())
	}
	if err := out.Push(frame(5)); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Push after overflow error = %v, want ErrAlreadyClosed", err)
	}

	// Frames queued before the overflow are still handed out.
	frames, ok := out.Next(0)
	if !ok || len(frames) != 4 {
		t.Fatalf("Next() = %d frames, ok=%v; want 4, true", len(frames), ok)
	}
	if _, ok := out.Next(0); ok {
		t.Error("Next() on closed empty outbox returned true")
	}
}

func TestOutbox_NextBatches(t *testing.T) {
	out := NewOutbox(8, 0)
	for i := 0; i < 5; i++ {
		out.Push(frame(i))
	}

	frames, _ := out.Next(2)
	if len(frames) != 2 {
		t.Errorf("Next(2) = %d frames, want 2", len(frames))
	}
	frames, _ = out.Next(0)
	if len(frames) != 3 {
		t.Errorf("Next(0) = %d frames, want 3", len(frames))
	}
}

func TestOutbox_NextBlocksUntilPush(t *testing.T) {
	out := NewOutbox(4, 0)

	received := make(chan Frame, 1)
	go func() {
		frames, ok := out.Next(1)
		if ok {
			received <- frames[0]
		}
	}()

	time.Sleep(10 * time.Millisecond)
	out.Push(frame(42))

	select {
	case f := <-received:
		if f.Destination != "/topic/42" {
			t.Errorf("received %q, want /topic/42", f.Destination)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Next")
	}
}

func TestOutbox_CloseWakesWaiters(t *testing.T) {
	out := NewOutbox(4, 0)

	done := make(chan bool, 1)
	go func() {
		_, ok := out.Next(0)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	out.CloseWithError(ErrServerShutdown)
	out.Close() // second close keeps the first reason

	select {
	case ok := <-done:
		if ok {
			t.Error("Next() returned true after close on empty outbox")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	if !errors.Is(out.Err(), ErrServerShutdown) {
		t.Errorf("Err() = %v, want ErrServerShutdown", out.Err())
	}
}

func TestOutbox_ConcurrentPush(t *testing.T) {
	out := NewOutbox(4, 0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				out.Push(frame(i))
			}
		}()
	}
	wg.Wait()

	stats := out.Stats()
	if stats.Count != 800 {
		t.Errorf("Count = %d, want 800", stats.Count)
	}
	if stats.TotalPushed != 800 {
		t.Errorf("TotalPushed = %d, want 800", stats.TotalPushed)
	}
}
