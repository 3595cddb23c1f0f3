package chgossip

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenCacheSize is the number of message hashes a [Deduplicator] remembers
// when no size is given.
const DefaultSeenCacheSize = 1 << 16

// Deduplicator remembers the content hashes of recent messages.
// It is safe for concurrent use.
type Deduplicator struct {
	seen *lru.Cache[[sha256.Size]byte, struct{}]
}

// NewDeduplicator returns a Deduplicator holding up to size hashes.
// Non-positive sizes use [DefaultSeenCacheSize].
func NewDeduplicator(size int) *Deduplicator {
	if size <= 0 {
		size = DefaultSeenCacheSize
	}
	c, err := lru.New[[sha256.Size]byte, struct{}](size)
	if err != nil {
		// Only returned for non-positive sizes.
		panic(err)
	}
	return &Deduplicator{seen: c}
}

// FirstSeen records data and reports whether it had not been seen before.
func (d *Deduplicator) FirstSeen(data []byte) bool {
	h := sha256.Sum256(data)
	ok, _ := d.seen.ContainsOrAdd(h, struct{}{})
	return !ok
}

// MessageID is the content hash used for deduplication.
func MessageID(data []byte) string {
	h := sha256.Sum256(data)
	return string(h[:])
}
