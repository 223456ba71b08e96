package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourlab/termbroker/internal/protocol"
)

func decode(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(frame, &m))
	return m
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := New(4)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	n := b.Publish(protocol.TerminalEvent(protocol.ActionCreated, "s1"))
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{a, c} {
		got := decode(t, <-sub.C())
		assert.Equal(t, "created", got["action"])
		assert.Equal(t, "s1", got["sessionId"])
	}
}

func TestFullQueueDropsOnlyForThatSubscriber(t *testing.T) {
	b := New(1)
	slow := b.Subscribe("slow")
	fast := b.Subscribe("fast")

	b.Publish(protocol.Output("s1", "one"))
	<-fast.C()
	n := b.Publish(protocol.Output("s1", "two"))

	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Equal(t, "one", decode(t, <-slow.C())["data"])
	assert.Equal(t, "two", decode(t, <-fast.C())["data"])
}

func TestSendToTargetsOneSubscriber(t *testing.T) {
	b := New(4)
	a := b.Subscribe("a")
	other := b.Subscribe("b")

	require.True(t, b.SendTo("a", protocol.TerminalError("s1", "boom")))
	assert.False(t, b.SendTo("ghost", protocol.TerminalError("s1", "boom")))

	assert.Equal(t, "error", decode(t, <-a.C())["action"])
	select {
	case f := <-other.C():
		t.Fatalf("unexpected frame for other subscriber: %s", f)
	default:
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("a")
	b.Unsubscribe("a")
	b.Unsubscribe("a")

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Publish(protocol.Output("s1", "x")))
}

func TestResubscribeReplacesQueue(t *testing.T) {
	b := New(4)
	first := b.Subscribe("a")
	second := b.Subscribe("a")

	_, ok := <-first.C()
	assert.False(t, ok)
	assert.Equal(t, 1, b.Publish(protocol.Output("s1", "x")))
	assert.Equal(t, "x", decode(t, <-second.C())["data"])
}

func TestPublishFramePassesBytesThrough(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("a")
	frame := []byte(`{"type":"file_updated","exercise":"ex01"}`)
	b.PublishFrame(frame)
	assert.Equal(t, frame, <-sub.C())
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("c%d", i)
		sub := b.Subscribe(id)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.C() {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(protocol.Output("s1", "x"))
			}
			b.Unsubscribe(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}

func TestCloseDrainsThenEnds(t *testing.T) {
	b := New(4)
	a := b.Subscribe("a")
	c := b.Subscribe("c")
	b.Publish(protocol.Exit("s1", 0))

	b.Close()

	assert.Equal(t, 0, b.Len())
	for _, sub := range []*Subscription{a, c} {
		frame, ok := <-sub.C()
		require.True(t, ok)
		assert.Equal(t, "exit", decode(t, frame)["action"])
		_, ok = <-sub.C()
		assert.False(t, ok)
	}
	assert.Equal(t, 0, b.Publish(protocol.Output("s1", "late")))
	b.Unsubscribe("a")
}
