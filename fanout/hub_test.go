package fanout

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/calc"
	"github.com/mhaase/strompreis-go/types"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

func testPoint(price float64) types.PricePoint {
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	return types.PricePoint{Provider: "awattar", Start: start, End: start.Add(time.Hour), Price: price}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := testHub()
	a := h.Subscribe("a", 4)
	b := h.Subscribe("b", 4)

	h.PublishPrice(testPoint(12), calc.Delta{Absolute: 2, Known: true})

	for _, s := range []*Subscriber{a, b} {
		ev := <-s.Events()
		assert.Equal(t, EventPrice, ev.Type)
		require.NotNil(t, ev.Price)
		assert.Equal(t, 12.0, ev.Price.Point.Price)
		assert.Equal(t, uint64(1), ev.Seq)
	}
}

func TestSequenceIsMonotonic(t *testing.T) {
	h := testHub()
	s := h.Subscribe("s", 8)

	h.PublishPrice(testPoint(1), calc.Delta{})
	h.PublishAlert(types.AlertEvent{Rule: "r"})
	h.PublishPrice(testPoint(2), calc.Delta{})

	var seqs []uint64
	for i := 0; i < 3; i++ {
		seqs = append(seqs, (<-s.Events()).Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := testHub()
	slow := h.Subscribe("slow", 2)
	fast := h.Subscribe("fast", 8)

	for i := 1; i <= 5; i++ {
		h.PublishPrice(testPoint(float64(i)), calc.Delta{})
	}

	// The slow queue holds only the newest two events.
	ev := <-slow.Events()
	assert.Equal(t, uint64(4), ev.Seq)
	ev = <-slow.Events()
	assert.Equal(t, uint64(5), ev.Seq)
	assert.Equal(t, uint64(3), slow.Dropped())

	// The fast subscriber saw everything.
	for i := 1; i <= 5; i++ {
		assert.Equal(t, uint64(i), (<-fast.Events()).Seq)
	}
	assert.Zero(t, fast.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := testHub()
	s := h.Subscribe("s", 1)
	h.Unsubscribe(s)

	_, open := <-s.Events()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	h.PublishAlert(types.AlertEvent{Rule: "r"})
	h.Unsubscribe(s)
}
