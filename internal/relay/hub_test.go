package relay

import (
	"fmt"
	"sync"
	"testing"
)

func newTestSubscriber(id string) *Subscriber {
	return NewSubscriber(id, nil)
}

func drain(s *Subscriber) [][]byte {
	var out [][]byte
	for {
		select {
		case p, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h := NewHub()
	a := newTestSubscriber("a")
	b := newTestSubscriber("b")

	h.Join("room-1", a)
	h.Join("room-1", b)
	if got := h.RoomSize("room-1"); got != 2 {
		t.Fatalf("expected room size 2, got %d", got)
	}

	h.Leave("room-1", a)
	if got := h.RoomSize("room-1"); got != 1 {
		t.Fatalf("expected room size 1, got %d", got)
	}

	// Room entry disappears with the last subscriber.
	h.Leave("room-1", b)
	if h.HasRoom("room-1") {
		t.Error("expected room to be removed after last leave")
	}
}

func TestHub_LeaveIdempotent(t *testing.T) {
	h := NewHub()
	a := newTestSubscriber("a")

	h.Join("room-1", a)
	h.Leave("room-1", a)
	h.Leave("room-1", a)
	h.Leave("room-2", a)

	if h.HasRoom("room-1") {
		t.Error("expected room removed")
	}
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	sender := newTestSubscriber("sender")
	peer1 := newTestSubscriber("peer1")
	peer2 := newTestSubscriber("peer2")

	h.Join("room-1", sender)
	h.Join("room-1", peer1)
	h.Join("room-1", peer2)

	failed := h.Broadcast("room-1", []byte("hello"), sender)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}

	if got := drain(sender); len(got) != 0 {
		t.Errorf("sender should not receive its own message, got %d", len(got))
	}
	for _, peer := range []*Subscriber{peer1, peer2} {
		got := drain(peer)
		if len(got) != 1 || string(got[0]) != "hello" {
			t.Errorf("%s: expected one %q message, got %v", peer.ID, "hello", got)
		}
	}
}

func TestHub_BroadcastNilExcludeReachesAll(t *testing.T) {
	h := NewHub()
	a := newTestSubscriber("a")
	b := newTestSubscriber("b")
	h.Join("room-1", a)
	h.Join("room-1", b)

	h.Broadcast("room-1", []byte("push"), nil)

	for _, sub := range []*Subscriber{a, b} {
		if got := drain(sub); len(got) != 1 {
			t.Errorf("%s: expected 1 message, got %d", sub.ID, len(got))
		}
	}
}

func TestHub_BroadcastIsolatedPerRoom(t *testing.T) {
	h := NewHub()
	a := newTestSubscriber("a")
	b := newTestSubscriber("b")
	h.Join("room-1", a)
	h.Join("room-2", b)

	h.Broadcast("room-1", []byte("only room-1"), nil)

	if got := drain(a); len(got) != 1 {
		t.Errorf("expected room-1 subscriber to receive message, got %d", len(got))
	}
	if got := drain(b); len(got) != 0 {
		t.Errorf("expected room-2 subscriber to receive nothing, got %d", len(got))
	}
}

func TestHub_BroadcastEmptyRoom(t *testing.T) {
	h := NewHub()
	if failed := h.Broadcast("nobody-home", []byte("x"), nil); len(failed) != 0 {
		t.Errorf("expected no failures for empty room, got %v", failed)
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := NewHub()
	slow := newTestSubscriber("slow")
	fast := newTestSubscriber("fast")
	h.Join("room-1", slow)
	h.Join("room-1", fast)

	// Fill the slow subscriber's buffer without draining it.
	for i := 0; i <= sendBuffer; i++ {
		failed := h.Broadcast("room-1", []byte(fmt.Sprintf("msg %d", i)), nil)
		drain(fast)
		if i < sendBuffer && len(failed) != 0 {
			t.Fatalf("broadcast %d: unexpected failures %v", i, failed)
		}
		if i == sendBuffer {
			if len(failed) != 1 || failed[0].Subscriber != "slow" {
				t.Fatalf("expected slow subscriber dropped, got %v", failed)
			}
		}
	}

	if got := h.RoomSize("room-1"); got != 1 {
		t.Errorf("expected slow subscriber removed, room size %d", got)
	}

	// Later broadcasts still reach the healthy subscriber.
	if failed := h.Broadcast("room-1", []byte("after"), nil); len(failed) != 0 {
		t.Errorf("unexpected failures after drop: %v", failed)
	}
	if got := drain(fast); len(got) != 1 {
		t.Errorf("expected healthy subscriber to keep receiving, got %d", len(got))
	}
}

func TestHub_CloseRoom(t *testing.T) {
	h := NewHub()
	a := newTestSubscriber("a")
	b := newTestSubscriber("b")
	h.Join("room-1", a)
	h.Join("room-1", b)
	h.Join("room-2", newTestSubscriber("c"))

	h.CloseRoom("room-1")

	if h.HasRoom("room-1") {
		t.Error("expected room-1 removed")
	}
	if !h.HasRoom("room-2") {
		t.Error("room-2 must be unaffected")
	}
	// Send channels are closed so write pumps terminate.
	if _, ok := <-a.send; ok {
		t.Error("expected a's send channel closed")
	}
	if _, ok := <-b.send; ok {
		t.Error("expected b's send channel closed")
	}

	// Closing again or closing an unknown room is a no-op.
	h.CloseRoom("room-1")
	h.CloseRoom("never-existed")
}

func TestHub_TrySendAfterCloseIsFailure(t *testing.T) {
	sub := newTestSubscriber("closed")
	sub.closeSend()
	if got := sub.trySend([]byte("x")); got != sendClosed {
		t.Errorf("expected sendClosed on closed channel, got %v", got)
	}
}

func TestHub_BroadcastReasonDistinguishesFailureModes(t *testing.T) {
	h := NewHub()
	full := newTestSubscriber("full")
	gone := newTestSubscriber("gone")
	h.Join("room-1", full)
	h.Join("room-1", gone)

	for i := 0; i < sendBuffer; i++ {
		if full.trySend([]byte("fill")) != sendOK {
			t.Fatalf("fill %d: buffer filled early", i)
		}
	}
	// Closed behind the hub's back, as a disconnecting write pump does.
	gone.closeSend()

	failed := h.Broadcast("room-1", []byte("x"), nil)
	if len(failed) != 2 {
		t.Fatalf("expected 2 failures, got %v", failed)
	}
	reasons := map[string]string{}
	for _, f := range failed {
		reasons[f.Subscriber] = f.Reason
	}
	if reasons["full"] != "send buffer full" {
		t.Errorf("full subscriber: expected buffer-full reason, got %q", reasons["full"])
	}
	if reasons["gone"] != "subscriber disconnected" {
		t.Errorf("gone subscriber: expected disconnected reason, got %q", reasons["gone"])
	}
	if h.HasRoom("room-1") {
		t.Error("expected both failing subscribers removed")
	}
}

func TestHub_ConcurrentChurn(t *testing.T) {
	h := NewHub()
	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				sub := newTestSubscriber(fmt.Sprintf("w%d-%d", w, i))
				h.Join("churn", sub)
				h.Broadcast("churn", []byte("tick"), sub)
				drain(sub)
				h.Leave("churn", sub)
			}
		}(w)
	}
	wg.Wait()

	if h.HasRoom("churn") {
		t.Errorf("expected churn room empty, size %d", h.RoomSize("churn"))
	}
}
