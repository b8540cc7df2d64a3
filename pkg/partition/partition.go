package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Digest reduces a key to a stable unsigned integer: SHA-256 truncated to
// the first 8 bytes. Two processes computing the digest for the same key
// always agree, which is what makes mapping queries coordination-free.
func Digest(key string) uint64 {
	h := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(h[:8])
}

// ReplicaSet computes the ordered replica set for a key over the given live
// worker identifiers. The first element is the primary; the set has
// min(r, len(live)) distinct members.
//
// The live set is canonically ordered by sorting identifiers, the primary
// index is digest mod len(live), and backups follow the primary cyclically.
// Because the modulus is the live-set size, removing one worker can move
// the primary of keys it did not host as well. Re-replication does not
// depend on the shape of that move: it pulls each missing copy from
// whichever live worker currently holds the key.
func ReplicaSet(key string, live []string, r int) ([]string, error) {
	if len(live) == 0 {
		return nil, types.ErrNoWorkers
	}
	if r < 1 {
		r = 1
	}

	ordered := make([]string, len(live))
	copy(ordered, live)
	sort.Strings(ordered)

	n := min(r, len(ordered))
	primary := int(Digest(key) % uint64(len(ordered)))

	set := make([]string, 0, n)
	for i := 0; i < n; i++ {
		set = append(set, ordered[(primary+i)%len(ordered)])
	}
	return set, nil
}

// Primary returns just the primary worker for a key.
func Primary(key string, live []string) (string, error) {
	set, err := ReplicaSet(key, live, 1)
	if err != nil {
		return "", err
	}
	return set[0], nil
}
