package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBounded_SendReceive(t *testing.T) {
	q := NewBounded[int](10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := q.Send(ctx, i)
		if err != nil || !ok {
			t.Fatalf("Send(%d) = %v, %v", i, ok, err)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		v, ok := q.Receive(ctx)
		if !ok {
			t.Fatalf("Receive() closed early at %d", i)
		}
		if v != i {
			t.Errorf("received %d, want %d", v, i)
		}
	}
}

func TestBounded_SendBlocksWhenFull(t *testing.T) {
	q := NewBounded[int](1)
	ctx := context.Background()

	if ok, _ := q.Send(ctx, 1); !ok {
		t.Fatal("first Send failed")
	}

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		q.Send(ctx, 2) // blocks until a receive frees a slot
		close(done)
	}()

	<-started
	select {
	case <-done:
		t.Fatal("Send returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if v, ok := q.Receive(ctx); !ok || v != 1 {
		t.Fatalf("Receive() = %d, %v", v, ok)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Receive")
	}
}

func TestBounded_SendCancellation(t *testing.T) {
	q := NewBounded[int](1)
	q.Send(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := q.Send(ctx, 2)
	if ok || err == nil {
		t.Fatalf("Send on full queue with expired ctx = %v, %v; want false, error", ok, err)
	}
}

func TestBounded_CloseDrains(t *testing.T) {
	q := NewBounded[int](4)
	ctx := context.Background()
	q.Send(ctx, 1)
	q.Send(ctx, 2)
	q.Close()

	if ok, err := q.Send(ctx, 3); ok || err != nil {
		t.Errorf("Send after Close = %v, %v; want false, nil", ok, err)
	}

	for want := 1; want <= 2; want++ {
		v, ok := q.Receive(ctx)
		if !ok || v != want {
			t.Fatalf("Receive() = %d, %v; want %d, true", v, ok, want)
		}
	}
	if _, ok := q.Receive(ctx); ok {
		t.Error("Receive() after drain reported open queue")
	}
}

func TestBounded_ConcurrentProducers(t *testing.T) {
	q := NewBounded[int](8)
	ctx := context.Background()

	const producers, each = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Send(ctx, i)
			}
		}()
	}

	received := 0
	doneRecv := make(chan struct{})
	go func() {
		defer close(doneRecv)
		for received < producers*each {
			if _, ok := q.Receive(ctx); ok {
				received++
			}
		}
	}()

	wg.Wait()
	select {
	case <-doneRecv:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining queue")
	}
	if received != producers*each {
		t.Errorf("received %d items, want %d", received, producers*each)
	}
}

func TestControl_CoalescesPollCommands(t *testing.T) {
	c := NewControl()
	c.Post(Command{Kind: CmdSetPoll, Seconds: 1})
	c.Post(Command{Kind: CmdSetPoll, Seconds: 2})
	c.Post(Command{Kind: CmdSetPoll, Seconds: 5})

	cmds := c.Drain()
	if len(cmds) != 1 {
		t.Fatalf("Drain() returned %d commands, want 1", len(cmds))
	}
	if cmds[0].Seconds != 5 {
		t.Errorf("kept Seconds = %v, want 5 (latest wins)", cmds[0].Seconds)
	}
}

func TestControl_StopSubsumesPending(t *testing.T) {
	c := NewControl()
	c.Post(Command{Kind: CmdSetPoll, Seconds: 2})
	c.Post(Command{Kind: CmdCapture})
	c.Post(Command{Kind: CmdStop, Reason: "user"})

	cmds := c.Drain()
	if len(cmds) != 1 || cmds[0].Kind != CmdStop {
		t.Fatalf("Drain() = %+v, want single stop", cmds)
	}
}

func TestControl_NotifyWakeup(t *testing.T) {
	c := NewControl()
	c.Post(Command{Kind: CmdCapture})

	select {
	case <-c.Notify():
	case <-time.After(time.Second):
		t.Fatal("Notify() did not fire after Post")
	}
	if got := c.Drain(); len(got) != 1 {
		t.Fatalf("Drain() returned %d commands, want 1", len(got))
	}
}
