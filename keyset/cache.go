package keyset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	core "github.com/henrigvs/aidji-boot-sub000/core"
)

// ErrKeyNotFound means a kid stayed absent even after a refresh. Terminal
// for the lookup that triggered it; the caller must not retry.
var ErrKeyNotFound = errors.New("key not found in key set")

const (
	connectTimeout = 5 * time.Second
	fetchTimeout   = 10 * time.Second

	// maxKeySetBytes caps how much of a key-set response is read. Real
	// documents are a few kilobytes.
	maxKeySetBytes = 1 << 20
)

// Cache holds the kid → key mapping for one key-set endpoint.
//
// Lookups that hit a fresh entry take only a read lock and never touch the
// network. A miss or an expired set triggers a refresh that fetches the
// whole document and swaps the mapping wholesale; the write lock covers just
// the swap, so hits keep flowing against the previous snapshot while the
// fetch is in flight. Concurrent misses collapse into a single fetch, and a
// failed fetch is delivered to every waiter of that flight.
type Cache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	log    logrus.FieldLogger

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*PublicKeyEntry
	fetchedAt time.Time
	gen       uint64 // bumped on every successful swap
}

// NewCache builds a cache over jwksURL. A non-positive ttl falls back to
// core.DefaultKeySetTTL.
func NewCache(jwksURL string, ttl time.Duration, log logrus.FieldLogger) *Cache {
	if ttl <= 0 {
		ttl = core.DefaultKeySetTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		url: jwksURL,
		ttl: ttl,
		client: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		log:  log,
		keys: map[string]*PublicKeyEntry{},
	}
}

// GetKey resolves kid against the current key set, refreshing the whole set
// on a miss or expiry. A kid still absent after one refresh yields
// ErrKeyNotFound; refresh trouble yields an infrastructure-class error.
func (c *Cache) GetKey(ctx context.Context, kid string) (*PublicKeyEntry, error) {
	c.mu.RLock()
	entry := c.keys[kid]
	fresh := c.freshLocked()
	observed := c.gen
	c.mu.RUnlock()

	if entry != nil && fresh {
		return entry, nil
	}

	if err := c.refresh(ctx, observed); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry = c.keys[kid]
	c.mu.RUnlock()
	if entry == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return entry, nil
}

// freshLocked reports whether the mapping is inside its TTL. Callers hold mu.
func (c *Cache) freshLocked() bool {
	return !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
}

// refresh replaces the mapping unless another caller already completed a
// refresh after observed was read; that re-check is what keeps a stampede of
// misses down to one fetch.
func (c *Cache) refresh(ctx context.Context, observed uint64) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.RLock()
		done := c.gen != observed
		c.mu.RUnlock()
		if done {
			return nil, nil
		}

		doc, err := c.fetch(ctx)
		if err != nil {
			return nil, core.Infrastructure("key set fetch", err)
		}
		entries, err := ParseKeySet(doc, c.log)
		if err != nil {
			return nil, core.Infrastructure("key set decode", err)
		}

		next := make(map[string]*PublicKeyEntry, len(entries))
		for _, e := range entries {
			next[e.KID] = e
		}

		c.mu.Lock()
		c.keys = next // full replacement, never a merge
		c.fetchedAt = time.Now()
		c.gen++
		c.mu.Unlock()

		c.log.WithField("keys", len(next)).Debug("key set refreshed")
		return nil, nil
	})
	return err
}

// fetch retrieves the raw key-set document. The flight is shared by every
// concurrent miss, so the request must not die with any single caller's
// context; the client timeouts are the only bound.
func (c *Cache) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
}
