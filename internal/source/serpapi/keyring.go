package serpapi

import (
	"errors"
	"sync"
)

// ErrNoKeys is returned when every key is missing or exhausted
var ErrNoKeys = errors.New("no usable serpapi key")

// KeyRing hands out API keys round-robin and skips keys the API rejected
type KeyRing struct {
	mu        sync.Mutex
	keys      []string
	next      int
	exhausted map[string]bool
}

// NewKeyRing creates a ring over the non-empty keys
func NewKeyRing(keys []string) *KeyRing {
	r := &KeyRing{exhausted: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			r.keys = append(r.keys, k)
		}
	}
	return r
}

// Next returns the next usable key
func (r *KeyRing) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range r.keys {
		k := r.keys[r.next%len(r.keys)]
		r.next++
		if !r.exhausted[k] {
			return k, nil
		}
	}
	return "", ErrNoKeys
}

// MarkExhausted takes a key out of rotation
func (r *KeyRing) MarkExhausted(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted[key] = true
}

// Len returns the number of keys, exhausted ones included
func (r *KeyRing) Len() int {
	return len(r.keys)
}
