package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	return out
}

func TestSinkDeliversInOrder(t *testing.T) {
	sink := NewSink(nil)
	defer sink.Close()

	a, unsubA := sink.Subscribe(4)
	defer unsubA()
	b, unsubB := sink.Subscribe(64)
	defer unsubB()

	for i := 0; i < 50; i++ {
		sink.Publish(Event{Kind: KindWorkflowProgress, City: "congonhas", Year: 2025, Percentage: i})
	}

	for _, ch := range []<-chan Event{a, b} {
		events := collect(t, ch, 50)
		for i, e := range events {
			assert.Equal(t, i, e.Percentage)
			assert.False(t, e.Timestamp.IsZero())
		}
	}
}

func TestSinkPublishNeverBlocks(t *testing.T) {
	sink := NewSink(nil)
	_, unsub := sink.Subscribe(0) // never read
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			sink.Publish(Event{Kind: KindRunProgress, Percentage: i % 100})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
	unsub()
	sink.Close()
}

func TestSinkCloseDrainsQueue(t *testing.T) {
	sink := NewSink(nil)
	ch, _ := sink.Subscribe(100)

	for i := 0; i < 20; i++ {
		sink.Publish(Event{Kind: KindWorkflowProgress, Percentage: i})
	}
	sink.Close()

	var got []Event
	for e := range ch {
		got = append(got, e)
	}
	assert.Len(t, got, 20, "queued events are delivered before the channel closes")

	sink.Publish(Event{Kind: KindRunProgress})
	sink.Close()

	late, unsub := sink.Subscribe(1)
	unsub()
	_, ok := <-late
	assert.False(t, ok)
}

func TestSinkCloseWithin(t *testing.T) {
	t.Run("reader keeps up", func(t *testing.T) {
		sink := NewSink(nil)
		ch, _ := sink.Subscribe(0)
		for i := 0; i < 5; i++ {
			sink.Publish(Event{Kind: KindWorkflowProgress, Percentage: i})
		}

		got := make(chan int)
		go func() {
			n := 0
			for range ch {
				n++
			}
			got <- n
		}()
		assert.True(t, sink.CloseWithin(2*time.Second))
		assert.Equal(t, 5, <-got)
	})

	t.Run("abandoned subscriber", func(t *testing.T) {
		sink := NewSink(nil)
		ch, _ := sink.Subscribe(1)
		for i := 0; i < 5; i++ {
			sink.Publish(Event{Kind: KindWorkflowProgress, Percentage: i})
		}

		done := make(chan bool)
		go func() { done <- sink.CloseWithin(20 * time.Millisecond) }()
		select {
		case delivered := <-done:
			assert.False(t, delivered)
		case <-time.After(2 * time.Second):
			t.Fatal("CloseWithin blocked on a subscriber that never reads")
		}

		var got []Event
		for e := range ch {
			got = append(got, e)
		}
		require.Len(t, got, 1, "only the buffered event survives")
		assert.Equal(t, 0, got[0].Percentage)

		sink.Publish(Event{Kind: KindRunProgress})
		sink.Close()
	})
}

func TestSinkUnsubscribeStopsDelivery(t *testing.T) {
	sink := NewSink(nil)
	defer sink.Close()

	ch, unsub := sink.Subscribe(0)
	unsub()
	unsub()

	sink.Publish(Event{Kind: KindRunProgress})
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSinkConcurrentPublishers(t *testing.T) {
	sink := NewSink(nil)
	ch, unsub := sink.Subscribe(1000)
	defer unsub()

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sink.Publish(Event{Kind: KindWorkflowProgress, Year: 2020 + w, Percentage: i})
			}
		}(w)
	}
	wg.Wait()

	events := collect(t, ch, 500)
	last := map[int]int{}
	for _, e := range events {
		prev, seen := last[e.Year]
		if seen {
			assert.Greater(t, e.Percentage, prev, "per-publisher order is kept")
		}
		last[e.Year] = e.Percentage
	}
	sink.Close()
}

func TestTracker(t *testing.T) {
	a, b := PairKey("congonhas", 2024), PairKey("congonhas", 2025)
	tr := NewTracker(a, b)
	assert.Equal(t, 0, tr.Run())
	assert.Equal(t, "calculating...", tr.ETA())

	assert.Equal(t, 25, tr.Update(a, 50))
	assert.Equal(t, 25, tr.Update(a, 10), "pairs never go backwards")
	assert.Equal(t, 75, tr.Update(b, 150), "percentages are clamped")
	assert.False(t, tr.Done())

	assert.Equal(t, 100, tr.Finish(a))
	assert.True(t, tr.Done())
	assert.Equal(t, "done", tr.ETA())
}

func TestTrackerObserve(t *testing.T) {
	tr := NewTracker()
	require.Equal(t, 0, tr.Run())

	tr.Observe(Event{Kind: KindWorkflowStarted, City: "ouro_preto", Year: 2023})
	assert.Equal(t, 40, tr.Observe(Event{Kind: KindWorkflowProgress, City: "ouro_preto", Year: 2023, Percentage: 40}))
	assert.Equal(t, 40, tr.Observe(Event{Kind: KindRunProgress, Percentage: 99}))
	assert.Equal(t, 100, tr.Observe(Event{Kind: KindWorkflowFinished, City: "ouro_preto", Year: 2023, Status: "error"}))
	assert.True(t, tr.Done())
}

func TestPublisherFunc(t *testing.T) {
	var got []Kind
	p := PublisherFunc(func(e Event) { got = append(got, e.Kind) })
	p.Publish(Event{Kind: KindWorkflowStarted})
	Discard.Publish(Event{Kind: KindWorkflowFinished})
	assert.Equal(t, []Kind{KindWorkflowStarted}, got)
	assert.Equal(t, "a/2025", Event{City: "a", Year: 2025}.Pair())
	assert.Empty(t, Event{Kind: KindRunProgress}.Pair())
}

func TestTee(t *testing.T) {
	var a, b []Kind
	p := Tee(
		PublisherFunc(func(e Event) { a = append(a, e.Kind) }),
		nil,
		PublisherFunc(func(e Event) { b = append(b, e.Kind) }),
	)
	p.Publish(Event{Kind: KindWorkflowStarted})
	p.Publish(Event{Kind: KindRunProgress})

	want := []Kind{KindWorkflowStarted, KindRunProgress}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}
