package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Controller is an HTTP client for the controller API, used by workers for
// mapping and heartbeats and by the CLI.
type Controller struct {
	base string
	http *http.Client
}

// NewController creates a controller client. timeout bounds every call.
func NewController(base string, timeout time.Duration) *Controller {
	return &Controller{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// Map asks the controller for a key's replica set as dialable addresses.
// Transport failures surface as ErrMappingUnavailable; an empty live set
// surfaces as ErrNoWorkers.
func (c *Controller) Map(key string) ([]string, error) {
	u := fmt.Sprintf("%s/map?key=%s", c.base, url.QueryEscape(key))
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMappingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, types.ErrNoWorkers
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: map returned %d", types.ErrMappingUnavailable, resp.StatusCode)
	}

	var body types.MapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode map response: %v", types.ErrMappingUnavailable, err)
	}
	return body.Replicas, nil
}

// Heartbeat posts a liveness beat for the given worker identity.
func (c *Controller) Heartbeat(id, address string) error {
	payload, _ := json.Marshal(types.HeartbeatRequest{ID: id, Address: address})
	resp, err := c.http.Post(c.base+"/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned %d", resp.StatusCode)
	}
	return nil
}

// Workers returns every registry entry with liveness.
func (c *Controller) Workers() ([]types.WorkerInfo, error) {
	resp, err := c.http.Get(c.base + "/workers")
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workers returned %d", resp.StatusCode)
	}

	var workers []types.WorkerInfo
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		return nil, fmt.Errorf("decode workers: %w", err)
	}
	return workers, nil
}

// Health fetches the controller's health descriptor.
func (c *Controller) Health() (*types.ControllerHealth, error) {
	resp, err := c.http.Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("controller health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}

	var h types.ControllerHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// Worker is an HTTP client for the worker API: client-facing KV operations
// plus the peer-to-peer replicate/pull surface.
type Worker struct {
	http *http.Client
}

// NewWorker creates a worker client. timeout bounds every call, which is
// what gives replicate fan-out its per-request deadline.
func NewWorker(timeout time.Duration) *Worker {
	return &Worker{http: &http.Client{Timeout: timeout}}
}

// Put writes a key through the worker at addr, which coordinates the
// quorum. Every 503 is reported as ErrQuorumNotMet; the worker also answers
// 503 when its mapping lookup fails (no live workers, controller
// unreachable), and those cases are not told apart here.
func (w *Worker) Put(addr, key, value string) (*types.PutResponse, error) {
	payload, _ := json.Marshal(types.ValueEnvelope{Value: value})
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/kv/%s", addr, url.PathEscape(key)), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, peerError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, types.ErrQuorumNotMet
	default:
		return nil, fmt.Errorf("put %s returned %d", key, resp.StatusCode)
	}

	var body types.PutResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode put response: %w", err)
	}
	return &body, nil
}

// Get fetches a key's value from the worker at addr.
func (w *Worker) Get(addr, key string) (string, error) {
	resp, err := w.http.Get(fmt.Sprintf("%s/kv/%s", addr, url.PathEscape(key)))
	if err != nil {
		return "", peerError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", types.ErrNotFound
	default:
		return "", fmt.Errorf("get %s returned %d", key, resp.StatusCode)
	}

	var env types.ValueEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode value: %w", err)
	}
	return env.Value, nil
}

// Replicate delivers a replica write to the peer at addr.
func (w *Worker) Replicate(ctx context.Context, addr, key, value string) error {
	payload, _ := json.Marshal(types.ValueEnvelope{Value: value})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/replicate/%s", addr, url.PathEscape(key)), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return peerError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("replicate %s to %s returned %d", key, addr, resp.StatusCode)
	}
	return nil
}

// Pull instructs the worker at addr to copy keys from the donor.
func (w *Worker) Pull(addr, donor string, keys []string) (*types.PullResponse, error) {
	payload, _ := json.Marshal(types.PullRequest{Donor: donor, Keys: keys})
	resp, err := w.http.Post(addr+"/pull", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, peerError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull on %s returned %d", addr, resp.StatusCode)
	}

	var body types.PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}
	return &body, nil
}

// Keys lists the keys held by the worker at addr.
func (w *Worker) Keys(addr string) ([]string, error) {
	resp, err := w.http.Get(addr + "/keys")
	if err != nil {
		return nil, peerError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keys on %s returned %d", addr, resp.StatusCode)
	}

	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	return keys, nil
}

// peerError translates a transport failure into the taxonomy: deadline
// expiry is a PeerTimeout, anything else a PeerUnreachable.
func peerError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", types.ErrPeerTimeout, err)
	}
	return fmt.Errorf("%w: %v", types.ErrPeerUnreachable, err)
}
