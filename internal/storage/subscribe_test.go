package storage

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestSubscribeInitialAndLatest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if err := s.Set(ctx, "profiles/u1", "v0"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ch := make(chan Snapshot, 16)
	unsubscribe, err := s.Subscribe(ctx, "profiles/u1", func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	initial := waitSnapshot(t, ch)
	if !initial.Exists || string(initial.Value) != `"v0"` {
		t.Errorf("initial snapshot = %+v, want existing v0", initial)
	}

	for _, v := range []string{"v1", "v2", "v3"} {
		if err := s.Set(ctx, "profiles/u1", v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if string(snap.Value) == `"v3"` {
				unsubscribe()
				if err := s.Close(); err != nil {
					t.Fatalf("Close: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("latest write never delivered")
		}
	}
}

func TestSubscribeMissingDocument(t *testing.T) {
	s := openTestStore(t)

	ch := make(chan Snapshot, 4)
	unsubscribe, err := s.Subscribe(context.Background(), "recommendations/u1", func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	if snap := waitSnapshot(t, ch); snap.Exists {
		t.Errorf("initial snapshot of missing doc = %+v, want Exists=false", snap)
	}
}

func TestSubscribeCoalescesWhileBusy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	ch := make(chan Snapshot, 16)
	first := true
	unsubscribe, err := s.Subscribe(ctx, "profiles/u1", func(snap Snapshot) {
		if first {
			first = false
			close(entered)
			<-release
		}
		ch <- snap
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	<-entered
	for _, v := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, "profiles/u1", v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	close(release)

	if snap := waitSnapshot(t, ch); snap.Exists {
		t.Errorf("first delivery = %+v, want initial missing snapshot", snap)
	}
	if snap := waitSnapshot(t, ch); string(snap.Value) != `"c"` {
		t.Errorf("coalesced delivery = %s, want \"c\"", snap.Value)
	}
	select {
	case snap := <-ch:
		t.Errorf("unexpected extra delivery %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}

	unsubscribe()
	s.Close()
}

func TestSubscribeSeesDeleteOfAncestor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "chatHistory/u1/dune", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ch := make(chan Snapshot, 4)
	unsubscribe, err := s.Subscribe(ctx, "chatHistory/u1/dune", func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()
	waitSnapshot(t, ch)

	if err := s.Delete(ctx, "chatHistory/u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap := waitSnapshot(t, ch)
	if snap.Exists || snap.Path != "chatHistory/u1/dune" {
		t.Errorf("snapshot after ancestor delete = %+v", snap)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch := make(chan Snapshot, 4)
	unsubscribe, err := s.Subscribe(ctx, "profiles/u1", func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitSnapshot(t, ch)
	unsubscribe()
	unsubscribe()

	if err := s.Set(ctx, "profiles/u1", "after"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case snap := <-ch:
		t.Errorf("delivery after unsubscribe: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}
