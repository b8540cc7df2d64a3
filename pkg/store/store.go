package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

const (
	artifactSuffix = ".json"
	lockShards     = 32
)

// Store is a worker's durable key-value store: one JSON artifact per key
// under the data directory, mirrored by an in-memory map for the read path.
//
// Writes on the same key serialize through a sharded lock table so the file
// and the map cannot diverge; writes on different keys proceed in parallel.
type Store struct {
	dir string

	mu     sync.RWMutex
	values map[string]string

	shards [lockShards]sync.Mutex
}

// Open loads every artifact in dir into memory. A key present on disk is
// visible to the first Get with no further traffic.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		values: make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan data dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactSuffix) {
			continue
		}
		key, err := decodeFilename(entry.Name())
		if err != nil {
			// Not one of ours; leave it alone.
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load artifact %s: %w", entry.Name(), err)
		}
		var env types.ValueEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", entry.Name(), err)
		}
		s.values[key] = env.Value
	}

	metrics.StoreKeys.Set(float64(len(s.values)))
	return s, nil
}

// Put durably writes a key. The artifact is written to a temp file, synced,
// and renamed into place before the in-memory map is updated, so a crash
// between the two leaves the disk state authoritative for the next Open.
// Idempotent: rewriting the same pair succeeds and changes nothing.
func (s *Store) Put(key, value string) error {
	shard := &s.shards[shardFor(key)]
	shard.Lock()
	defer shard.Unlock()

	data, err := json.Marshal(types.ValueEnvelope{Value: value})
	if err != nil {
		return fmt.Errorf("%w: encode value for %q: %v", types.ErrStorageFailure, key, err)
	}

	final := filepath.Join(s.dir, encodeFilename(key))
	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return fmt.Errorf("%w: create temp artifact: %v", types.ErrStorageFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write artifact: %v", types.ErrStorageFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync artifact: %v", types.ErrStorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close artifact: %v", types.ErrStorageFailure, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: publish artifact: %v", types.ErrStorageFailure, err)
	}

	s.mu.Lock()
	s.values[key] = value
	size := len(s.values)
	s.mu.Unlock()

	metrics.StoreKeys.Set(float64(size))
	return nil
}

// Get serves the read path from memory only.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return "", types.ErrNotFound
	}
	return value, nil
}

// Has reports whether the key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	_, ok := s.values[key]
	s.mu.RUnlock()
	return ok
}

// Keys returns a snapshot of all keys currently held.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of keys held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % lockShards
}

func encodeFilename(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + artifactSuffix
}

func decodeFilename(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, artifactSuffix))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
