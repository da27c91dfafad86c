package dubbing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxAge        = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Registry tracks in-flight dubbing requests by fingerprint so identical
// concurrent requests are rejected. Entries older than maxAge are swept.
type Registry struct {
	mu       sync.Mutex
	active   map[string]lease
	next     uint64
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

// lease is one holder's claim on a fingerprint. The id is never reused, so a
// holder that was swept cannot release whoever took the slot after it.
type lease struct {
	id      uint64
	started time.Time
}

// NewRegistry creates a registry. Zero durations fall back to 30 minutes and 1 minute.
func NewRegistry(maxAge, sweepInterval time.Duration) *Registry {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Registry{
		active:   make(map[string]lease),
		maxAge:   maxAge,
		interval: sweepInterval,
		now:      time.Now,
	}
}

// Fingerprint identifies a request by source identity, target language and voice.
// Language and voice are case-insensitive; the source is not.
func Fingerprint(source, language, voice string) string {
	h := sha256.New()
	parts := []string{
		strings.TrimSpace(source),
		strings.ToLower(strings.TrimSpace(language)),
		strings.ToLower(strings.TrimSpace(voice)),
	}
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TryAcquire registers fp and reports whether it was free.
func (r *Registry) TryAcquire(fp string) bool {
	_, ok := r.Acquire(fp)
	return ok
}

// Acquire registers fp and returns the lease id identifying this holder.
// Lease ids start at 1.
func (r *Registry) Acquire(fp string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[fp]; exists {
		return 0, false
	}
	r.next++
	r.active[fp] = lease{id: r.next, started: r.now()}
	return r.next, true
}

// Release removes fp whoever holds it. Releasing an unknown fingerprint is a no-op.
func (r *Registry) Release(fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, fp)
}

// ReleaseLease removes fp only while it is still held under id and reports
// whether it did.
func (r *Registry) ReleaseLease(fp string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, exists := r.active[fp]; exists && l.id == id {
		delete(r.active, fp)
		return true
	}
	return false
}

// Hold acquires fp and returns a release func that only removes the entry it
// created, so a request outliving the sweep cannot release a newer holder.
func (r *Registry) Hold(fp string) (func(), bool) {
	id, ok := r.Acquire(fp)
	if !ok {
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.ReleaseLease(fp, id) })
	}, true
}

// Active reports whether fp is currently registered.
func (r *Registry) Active(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[fp]
	return ok
}

// Len returns the number of registered requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Sweep removes entries older than the max age and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for fp, l := range r.active {
		if now.Sub(l.started) > r.maxAge {
			delete(r.active, fp)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				log.Printf("[Dubbing] Swept %d stale in-flight request(s)", n)
			}
		}
	}
}
