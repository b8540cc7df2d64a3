package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malluvkcr7/cloudcom/pkg/config"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeController serves /map and /heartbeat with a fixed replica list.
type fakeController struct {
	mu       sync.Mutex
	replicas []string
	beats    []types.HeartbeatRequest
	srv      *httptest.Server
}

func newFakeController() *fakeController {
	f := &fakeController{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /map", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.replicas) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "no live workers"})
			return
		}
		json.NewEncoder(w).Encode(types.MapResponse{
			Key:      r.URL.Query().Get("key"),
			Replicas: f.replicas,
		})
	})
	mux.HandleFunc("POST /heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req types.HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.beats = append(f.beats, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeController) setReplicas(addrs ...string) {
	f.mu.Lock()
	f.replicas = addrs
	f.mu.Unlock()
}

func (f *fakeController) beatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.beats)
}

// newTestWorker starts a real worker behind an httptest server whose URL is
// also the worker's published address.
func newTestWorker(t *testing.T, id string, ctrl *fakeController, quorum int) (*Worker, *httptest.Server) {
	t.Helper()

	var handler http.Handler
	var mu sync.RWMutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		h := handler
		mu.RUnlock()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.WorkerConfig{
		ID:                id,
		Address:           srv.URL,
		Controller:        ctrl.srv.URL,
		DataDir:           t.TempDir(),
		WriteQuorum:       quorum,
		RequestTimeout:    time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
	}

	w, err := New(cfg)
	require.NoError(t, err)

	mu.Lock()
	handler = w.Router()
	mu.Unlock()
	return w, srv
}

func httpPut(t *testing.T, base, key, value string) (*http.Response, types.PutResponse, string) {
	t.Helper()
	payload, _ := json.Marshal(types.ValueEnvelope{Value: value})
	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/kv/%s", base, key), bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var ok types.PutResponse
	var raw map[string]any
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
		return resp, ok, ""
	}
	json.NewDecoder(resp.Body).Decode(&raw)
	msg, _ := raw["error"].(string)
	return resp, ok, msg
}

func httpGet(t *testing.T, base, key string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/kv/%s", base, key))
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, ""
	}
	var env types.ValueEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, ""
	}
	return resp.StatusCode, env.Value
}

func TestPutReachesQuorumAndReplicates(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	_, s1 := newTestWorker(t, "w1", ctrl, 2)
	_, s2 := newTestWorker(t, "w2", ctrl, 2)
	_, s3 := newTestWorker(t, "w3", ctrl, 2)
	ctrl.setReplicas(s1.URL, s2.URL, s3.URL)

	resp, body, _ := httpPut(t, s1.URL, "demo-key", "v1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, body.Acks, 2)
	assert.Equal(t, "demo-key", body.Key)

	// The tail replica may still be in flight when the client returns.
	for _, srv := range []*httptest.Server{s1, s2, s3} {
		assert.Eventually(t, func() bool {
			code, value := httpGet(t, srv.URL, "demo-key")
			return code == http.StatusOK && value == "v1"
		}, 3*time.Second, 20*time.Millisecond)
	}
}

func TestPutQuorumNotMetWithSingleReplica(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	_, s1 := newTestWorker(t, "w1", ctrl, 2)
	ctrl.setReplicas(s1.URL)

	resp, _, msg := httpPut(t, s1.URL, "lonely", "v1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, msg, "quorum")

	// The local write is retained and readable.
	code, value := httpGet(t, s1.URL, "lonely")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", value)
}

func TestPutSucceedsWithOneDeadReplica(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	_, s1 := newTestWorker(t, "w1", ctrl, 2)
	_, s2 := newTestWorker(t, "w2", ctrl, 2)
	_, s3 := newTestWorker(t, "w3", ctrl, 2)
	s3.Close()
	ctrl.setReplicas(s1.URL, s2.URL, s3.URL)

	resp, body, _ := httpPut(t, s1.URL, "demo-key", "v1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body.Acks)
}

func TestPutForwardsToPrimaryWhenNotReplica(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	w1, s1 := newTestWorker(t, "w1", ctrl, 2)
	_, s2 := newTestWorker(t, "w2", ctrl, 2)
	w4, s4 := newTestWorker(t, "w4", ctrl, 2)
	ctrl.setReplicas(s1.URL, s2.URL)

	resp, body, _ := httpPut(t, s4.URL, "demo-key", "v1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, body.Acks, 2)

	// The proxy kept no copy; the primary did.
	assert.Empty(t, w4.Keys())
	assert.Contains(t, w1.Keys(), "demo-key")
}

func TestPutMappingUnavailable(t *testing.T) {
	ctrl := newFakeController()
	_, s1 := newTestWorker(t, "w1", ctrl, 2)
	ctrl.srv.Close()

	resp, _, _ := httpPut(t, s1.URL, "demo-key", "v1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// No local write without a mapping.
	code, _ := httpGet(t, s1.URL, "demo-key")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPutNoWorkers(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	_, s1 := newTestWorker(t, "w1", ctrl, 2)
	// Controller answers 503 when the live set is empty.
	resp, _, _ := httpPut(t, s1.URL, "demo-key", "v1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReplicateReceiveIsIdempotent(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	_, s1 := newTestWorker(t, "w1", ctrl, 2)

	payload, _ := json.Marshal(types.ValueEnvelope{Value: "rv"})
	for i := 0; i < 2; i++ {
		resp, err := http.Post(s1.URL+"/replicate/rep-key", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	code, value := httpGet(t, s1.URL, "rep-key")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rv", value)
}

func TestPullCopiesFromDonor(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	w1, s1 := newTestWorker(t, "w1", ctrl, 2)
	_, s2 := newTestWorker(t, "w2", ctrl, 2)

	require.NoError(t, w1.ReceiveReplica("k1", "v1"))
	require.NoError(t, w1.ReceiveReplica("k2", "v2"))

	payload, _ := json.Marshal(types.PullRequest{
		Donor: s1.URL,
		Keys:  []string{"k1", "k2", "missing"},
	})
	resp, err := http.Post(s2.URL+"/pull", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary types.PullResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 2, summary.Pulled)
	assert.Equal(t, 1, summary.Failed)

	code, value := httpGet(t, s2.URL, "k1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", value)
}

func TestKeysEndpoint(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	w1, s1 := newTestWorker(t, "w1", ctrl, 2)
	require.NoError(t, w1.ReceiveReplica("a", "1"))
	require.NoError(t, w1.ReceiveReplica("b", "2"))

	resp, err := http.Get(s1.URL + "/keys")
	require.NoError(t, err)
	defer resp.Body.Close()

	var keys []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestHeartbeatEmitter(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	w1, _ := newTestWorker(t, "w1", ctrl, 2)
	w1.Start()
	defer w1.Stop()

	require.Eventually(t, func() bool {
		return ctrl.beatCount() >= 2
	}, 3*time.Second, 20*time.Millisecond)

	ctrl.mu.Lock()
	beat := ctrl.beats[0]
	ctrl.mu.Unlock()
	assert.Equal(t, "w1", beat.ID)
	assert.Equal(t, w1.cfg.Address, beat.Address)
}

func TestValueSurvivesRestart(t *testing.T) {
	ctrl := newFakeController()
	defer ctrl.srv.Close()

	dir := t.TempDir()
	cfg := config.WorkerConfig{
		ID:                "w1",
		Address:           "http://localhost:0",
		Controller:        ctrl.srv.URL,
		DataDir:           dir,
		WriteQuorum:       1,
		RequestTimeout:    time.Second,
		HeartbeatInterval: time.Second,
	}

	w, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.ReceiveReplica("persist-test", "p"))

	reborn, err := New(cfg)
	require.NoError(t, err)

	value, err := reborn.Get("persist-test")
	require.NoError(t, err)
	assert.Equal(t, "p", value)
}
