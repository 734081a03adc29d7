package hub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/models"
)

type fakeSub struct {
	msgs   [][]byte
	fail   bool
	closed bool
}

func (f *fakeSub) Send(msg []byte) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSub) Close() {
	f.closed = true
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	a, b := &fakeSub{}, &fakeSub{}
	h.Subscribe(a)
	h.Subscribe(b)

	h.Publish(NewHostOfflineEvent("web-1"))

	require.Len(t, a.msgs, 1)
	require.Len(t, b.msgs, 1)

	var ev HostOfflineEvent
	require.NoError(t, json.Unmarshal(a.msgs[0], &ev))
	assert.Equal(t, EventHostOffline, ev.Type)
	assert.Equal(t, "web-1", ev.HostID)
}

func TestPublishOrderIsFIFOPerSubscriber(t *testing.T) {
	h := New()
	s := &fakeSub{}
	h.Subscribe(s)

	for i := 0; i < 5; i++ {
		h.Publish(NewLogEvent("web-1", models.LogEntry{TS: int64(i)}))
	}

	require.Len(t, s.msgs, 5)
	for i, msg := range s.msgs {
		var ev LogEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, int64(i), ev.Entry.TS)
	}
}

func TestFailingSubscriberIsDroppedAndClosed(t *testing.T) {
	h := New()
	healthy, broken := &fakeSub{}, &fakeSub{fail: true}
	h.Subscribe(healthy)
	h.Subscribe(broken)
	assert.Equal(t, 2, h.Count())

	h.Publish(NewHostOfflineEvent("web-1"))

	assert.Equal(t, 1, h.Count())
	assert.True(t, broken.closed)
	assert.Len(t, healthy.msgs, 1)

	// The survivor keeps receiving.
	h.Publish(NewHostOfflineEvent("web-2"))
	assert.Len(t, healthy.msgs, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	s := &fakeSub{}
	h.Subscribe(s)
	h.Unsubscribe(s)

	h.Publish(NewHostOfflineEvent("web-1"))
	assert.Empty(t, s.msgs)
	assert.Equal(t, 0, h.Count())
}
