package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubPublishOrderAndUnsubscribe(t *testing.T) {
	var h Hub[int]
	var got []string
	cancelA := h.Subscribe(func(v int) { got = append(got, "a") })
	h.Subscribe(func(v int) { got = append(got, "b") })

	h.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)

	cancelA()
	cancelA()
	got = nil
	h.Publish(2)
	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, 1, h.Len())
}

func TestHubSubscriberMayPublishAgain(t *testing.T) {
	var h Hub[int]
	var seen []int
	h.Subscribe(func(v int) {
		seen = append(seen, v)
		if v == 1 {
			h.Publish(2)
		}
	})
	h.Publish(1)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestLatestKeepsNewestValue(t *testing.T) {
	ch := make(chan int, 1)
	push := Latest(ch)
	push(1)
	push(2)
	push(3)
	assert.Equal(t, 3, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}
