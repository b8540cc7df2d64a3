package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malluvkcr7/cloudcom/pkg/config"
	"github.com/malluvkcr7/cloudcom/pkg/events"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestController(t *testing.T) (*Controller, *httptest.Server) {
	t.Helper()

	c := New(config.DefaultControllerConfig())
	c.Start()
	t.Cleanup(c.Stop)

	srv := httptest.NewServer(c.Router())
	t.Cleanup(srv.Close)
	return c, srv
}

func beat(t *testing.T, base, id, addr string) {
	t.Helper()
	payload, _ := json.Marshal(types.HeartbeatRequest{ID: id, Address: addr})
	resp, err := http.Post(base+"/heartbeat", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func getMap(t *testing.T, base, key string) (int, types.MapResponse) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/map?key=%s", base, key))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body types.MapResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestMapWithoutWorkers(t *testing.T) {
	_, srv := newTestController(t)

	code, _ := getMap(t, srv.URL, "demo-key")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMapReturnsStableReplicaSet(t *testing.T) {
	_, srv := newTestController(t)

	for i := 1; i <= 4; i++ {
		beat(t, srv.URL, fmt.Sprintf("w%d", i), fmt.Sprintf("http://127.0.0.1:41%02d", i))
	}

	code, first := getMap(t, srv.URL, "demo-key")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, first.Replicas, 3)

	seen := map[string]bool{}
	for _, addr := range first.Replicas {
		assert.False(t, seen[addr])
		seen[addr] = true
	}

	for i := 0; i < 5; i++ {
		_, again := getMap(t, srv.URL, "demo-key")
		assert.Equal(t, first.Replicas, again.Replicas)
	}
}

func TestMapTruncatesBelowReplicationFactor(t *testing.T) {
	_, srv := newTestController(t)

	beat(t, srv.URL, "w1", "http://127.0.0.1:4101")
	beat(t, srv.URL, "w2", "http://127.0.0.1:4102")

	code, body := getMap(t, srv.URL, "demo-key")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Replicas, 2)
}

func TestMapRequiresKey(t *testing.T) {
	_, srv := newTestController(t)

	resp, err := http.Get(srv.URL + "/map")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkersListingAndHealth(t *testing.T) {
	c, srv := newTestController(t)

	beat(t, srv.URL, "w1", "http://127.0.0.1:4101")
	beat(t, srv.URL, "w2", "http://127.0.0.1:4102")
	c.registry.MarkDown("w2")

	resp, err := http.Get(srv.URL + "/workers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var workers []types.WorkerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&workers))
	require.Len(t, workers, 2)
	assert.True(t, workers[0].Live)
	assert.False(t, workers[1].Live)

	hr, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer hr.Body.Close()

	var h types.ControllerHealth
	require.NoError(t, json.NewDecoder(hr.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.WorkersCount)
}

func TestHeartbeatRevivesDownWorker(t *testing.T) {
	c, srv := newTestController(t)

	beat(t, srv.URL, "w1", "http://127.0.0.1:4101")
	require.True(t, c.registry.MarkDown("w1"))

	// Down workers drop out of mapping answers entirely.
	code, _ := getMap(t, srv.URL, "demo-key")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	beat(t, srv.URL, "w1", "http://127.0.0.1:4101")
	code, body := getMap(t, srv.URL, "demo-key")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"http://127.0.0.1:4101"}, body.Replicas)
}

func TestHeartbeatRejectsBadPayload(t *testing.T) {
	_, srv := newTestController(t)

	resp, err := http.Post(srv.URL+"/heartbeat", "application/json", bytes.NewReader([]byte(`{"id":""}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsListing(t *testing.T) {
	_, srv := newTestController(t)

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	var empty []events.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.Empty(t, empty)

	beat(t, srv.URL, "w1", "http://127.0.0.1:4101")

	resp, err = http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recorded []events.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recorded))
	require.Len(t, recorded, 1)
	assert.Equal(t, events.WorkerUp, recorded[0].Kind)
	assert.Equal(t, "w1", recorded[0].WorkerID)
}
