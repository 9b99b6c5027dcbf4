package bus

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	saveErr error
}

func (m *memStore) Save(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[topic] = payload

	return nil
}

func (m *memStore) Load() (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}

	return out, nil
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-03-01T11:30:00.123456Z", Timestamp(ts))
}

func TestNewRejectsBadComponentID(t *testing.T) {
	_, err := New("devices", "")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = New("devices", "a/b")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestTopic(t *testing.T) {
	b, err := New("/devices/", "probe")
	require.NoError(t, err)
	assert.Equal(t, "devices/probe/evt/ping/result", b.Topic("evt/ping/result"))

	b, err = New("", "probe")
	require.NoError(t, err)
	assert.Equal(t, "probe/status", b.Topic("status"))
}

func TestRetained(t *testing.T) {
	b, err := New("devices", "probe")
	require.NoError(t, err)

	require.NoError(t, b.Publish("status", []byte(`{"state":"running"}`), true))
	require.NoError(t, b.Publish("evt/telemetry/load", []byte(`{"value":1}`), false))

	got, ok := b.Retained("status")
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"running"}`, string(got))

	_, ok = b.Retained("evt/telemetry/load")
	assert.False(t, ok)
	assert.Equal(t, []string{"devices/probe/status"}, b.RetainedTopics())
}

func TestPublishRejectsInvalidJSON(t *testing.T) {
	b, err := New("devices", "probe")
	require.NoError(t, err)

	err = b.Publish("state", []byte(`{`), true)
	assert.True(t, errors.HasCode(err, errors.ErrPublish))
	_, ok := b.Retained("state")
	assert.False(t, ok)
}

func TestSubscribe(t *testing.T) {
	b, err := New("devices", "probe")
	require.NoError(t, err)
	require.NoError(t, b.Publish("cfg", []byte(`{}`), true))

	sub := b.Subscribe(4, true)
	defer sub.Close()

	msg := <-sub.C
	assert.Equal(t, Message{Topic: "devices/probe/cfg", Payload: []byte(`{}`), Retained: true}, msg)

	require.NoError(t, b.Publish("evt/ping/result", []byte(`{"ok":true}`), false))
	msg = <-sub.C
	assert.Equal(t, "devices/probe/evt/ping/result", msg.Topic)
	assert.False(t, msg.Retained)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b, err := New("devices", "probe")
	require.NoError(t, err)

	sub := b.Subscribe(1, false)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish("state", []byte(`{}`), true))
	}
	assert.Equal(t, uint64(2), b.Dropped())
	assert.Len(t, sub.C, 1)
}

func TestSubscriptionClose(t *testing.T) {
	b, err := New("devices", "probe")
	require.NoError(t, err)

	sub := b.Subscribe(1, false)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	require.NoError(t, b.Publish("state", []byte(`{}`), false))
}

func TestStoreRestoreAndSave(t *testing.T) {
	store := &memStore{data: map[string][]byte{
		"devices/probe/cfg": []byte(`{"logs_enabled":true}`),
		"devices/other/cfg": []byte(`{}`),
	}}

	b, err := New("devices", "probe", WithStore(store))
	require.NoError(t, err)

	got, ok := b.Retained("cfg")
	require.True(t, ok)
	assert.JSONEq(t, `{"logs_enabled":true}`, string(got))
	assert.Equal(t, []string{"devices/probe/cfg"}, b.RetainedTopics())

	require.NoError(t, b.Publish("status", []byte(`{"state":"running"}`), true))
	assert.Equal(t, []byte(`{"state":"running"}`), store.data["devices/probe/status"])

	store.saveErr = assert.AnError
	err = b.Publish("status", []byte(`{"state":"stopped"}`), true)
	assert.True(t, errors.HasCode(err, errors.ErrPublish))
	got, _ = b.Retained("status")
	assert.JSONEq(t, `{"state":"stopped"}`, string(got))
}
