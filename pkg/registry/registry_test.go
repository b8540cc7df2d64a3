package registry

import (
	"testing"
	"time"

	"github.com/malluvkcr7/cloudcom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertLifecycle(t *testing.T) {
	r := New()

	assert.Equal(t, UpsertNew, r.Upsert("w1", "http://w1:8080"))
	assert.Equal(t, UpsertRefreshed, r.Upsert("w1", "http://w1:8080"))

	require.True(t, r.MarkDown("w1"))
	w, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, types.WorkerStatusDown, w.Status)

	// Entry survives being down and revives on the next beat.
	assert.Equal(t, UpsertRevived, r.Upsert("w1", "http://w1:8080"))
	w, _ = r.Get("w1")
	assert.Equal(t, types.WorkerStatusUp, w.Status)
	assert.Equal(t, 1, r.Len())
}

func TestMarkDownUnknownOrAlreadyDown(t *testing.T) {
	r := New()
	assert.False(t, r.MarkDown("ghost"))

	r.Upsert("w1", "http://w1:8080")
	assert.True(t, r.MarkDown("w1"))
	assert.False(t, r.MarkDown("w1"))
}

func TestHeartbeatMonotonic(t *testing.T) {
	r := New()

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	r.Upsert("w1", "http://w1:8080")
	first, _ := r.Get("w1")

	// A clock that jumps backwards must not rewind last-heartbeat.
	clock = clock.Add(-time.Minute)
	r.Upsert("w1", "http://w1:8080")
	second, _ := r.Get("w1")
	assert.False(t, second.LastHeartbeat.Before(first.LastHeartbeat))

	clock = clock.Add(2 * time.Minute)
	r.Upsert("w1", "http://w1:8080")
	third, _ := r.Get("w1")
	assert.True(t, third.LastHeartbeat.After(second.LastHeartbeat))
}

func TestLiveOrderingAndAddress(t *testing.T) {
	r := New()
	r.Upsert("w3", "http://w3:8080")
	r.Upsert("w1", "http://w1:8080")
	r.Upsert("w2", "http://w2:8080")
	r.MarkDown("w2")

	assert.Equal(t, []string{"w1", "w3"}, r.LiveIDs())

	addr, ok := r.Address("w2")
	require.True(t, ok)
	assert.Equal(t, "http://w2:8080", addr)
}

func TestStale(t *testing.T) {
	r := New()
	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	r.Upsert("w1", "http://w1:8080")
	clock = clock.Add(3 * time.Second)
	r.Upsert("w2", "http://w2:8080")
	clock = clock.Add(4 * time.Second)

	// w1 is 7s stale, w2 4s stale.
	stale := r.Stale(6 * time.Second)
	require.Len(t, stale, 1)
	assert.Equal(t, "w1", stale[0].ID)

	// Down workers are not reported again.
	r.MarkDown("w1")
	assert.Empty(t, r.Stale(6*time.Second))
}
