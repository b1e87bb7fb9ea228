package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := New[string]()
	defer b.Close()

	values, unsub := b.Subscribe()
	defer unsub()

	b.Publish("hello")

	select {
	case v := <-values:
		if v != "hello" {
			t.Errorf("value = %q, want %q", v, "hello")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for value")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := New[int]()
	defer b.Close()

	v1, unsub1 := b.Subscribe()
	defer unsub1()
	v2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(7)

	for i, ch := range []<-chan int{v1, v2} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Errorf("subscriber %d got %d, want 7", i, v)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBusSubscribeWhere(t *testing.T) {
	b := New[int]()
	defer b.Close()

	evens, unsub := b.SubscribeWhere(func(v int) bool { return v%2 == 0 })
	defer unsub()

	for i := 1; i <= 4; i++ {
		b.Publish(i)
	}

	var got []int
	for len(got) < 2 {
		select {
		case v := <-evens:
			got = append(got, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("got %v, want [2 4]", got)
		}
	}
	if got[0] != 2 || got[1] != 4 {
		t.Errorf("got %v, want [2 4]", got)
	}

	select {
	case v := <-evens:
		t.Errorf("unexpected value %d", v)
	default:
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := New[int]()
	defer b.Close()

	values, unsub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", b.SubscriberCount())
	}

	unsub()
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-values; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Calling unsubscribe twice is harmless.
	unsub()
}

// TestBusDropsForSlowSubscriber verifies Publish never blocks on a full
// subscriber buffer.
func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewWithBuffer[int](2)
	defer b.Close()

	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := b.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestBusClose(t *testing.T) {
	b := New[int]()

	values, unsub := b.Subscribe()
	b.Close()

	if _, ok := <-values; ok {
		t.Error("channel should be closed after Close")
	}
	unsub()

	// Publishing and subscribing after close are safe.
	b.Publish(1)
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
	b.Close()
}

func TestBusConcurrentPublish(t *testing.T) {
	b := NewWithBuffer[int](1000)
	defer b.Close()

	values, unsub := b.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish(i)
			}
		}()
	}
	wg.Wait()

	if got := len(values); got != 500 {
		t.Errorf("received %d values, want 500", got)
	}
}

type keyed struct {
	key string
	n   int
}

func keyOf(v keyed) string { return v.key }

// TestCoalescingKeepsLatestPerKey publishes to a subscriber that is not
// reading and checks every key still ends on its newest value, in order.
func TestCoalescingKeepsLatestPerKey(t *testing.T) {
	b := NewCoalescing(2, keyOf)

	values, unsub := b.Subscribe()
	defer unsub()

	for i := 1; i <= 20; i++ {
		b.Publish(keyed{"a", i})
		b.Publish(keyed{"b", i})
	}
	b.Close()

	last := map[string]int{}
	count := 0
	for v := range values {
		if v.n <= last[v.key] {
			t.Fatalf("%s went from %d to %d", v.key, last[v.key], v.n)
		}
		last[v.key] = v.n
		count++
	}

	if last["a"] != 20 || last["b"] != 20 {
		t.Errorf("last values = %v, want 20 for both keys", last)
	}
	if count >= 40 {
		t.Errorf("received %d values, want intermediate values coalesced", count)
	}
	if b.Dropped() == 0 {
		t.Error("Dropped = 0, want coalesced deliveries counted")
	}
}

func TestCoalescingDeliversInOrder(t *testing.T) {
	b := NewCoalescing(8, keyOf)
	defer b.Close()

	values, unsub := b.SubscribeWhere(func(v keyed) bool { return v.key == "a" })
	defer unsub()

	b.Publish(keyed{"a", 1})
	b.Publish(keyed{"b", 1})
	b.Publish(keyed{"a", 2})

	for _, want := range []int{1, 2} {
		select {
		case v := <-values:
			if v.key != "a" || v.n != want {
				t.Fatalf("value = %+v, want a/%d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for value")
		}
	}
}

func TestCoalescingUnsubscribeClosesChannel(t *testing.T) {
	b := NewCoalescing(2, keyOf)
	defer b.Close()

	values, unsub := b.Subscribe()
	b.Publish(keyed{"a", 1})
	b.Publish(keyed{"a", 2})
	unsub()
	unsub()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-values:
			if !ok {
				if n := b.SubscriberCount(); n != 0 {
					t.Errorf("SubscriberCount = %d, want 0", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after unsubscribe")
		}
	}
}
