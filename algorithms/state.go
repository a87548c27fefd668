package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

// Namespace prefixes every key a limiter writes. Surfaces that share a
// backend with limiters must not let clients address keys under it.
const Namespace = "ratelimit:"

// IsLimiterKey reports whether key lies in the limiters' namespace.
func IsLimiterKey(key string) bool {
	return strings.HasPrefix(key, Namespace)
}

func stateKey(prefix, key string) string {
	return Namespace + prefix + ":" + key
}

func windowKey(prefix, key string, window int64) string {
	return Namespace + prefix + ":" + key + ":" + strconv.FormatInt(window, 10)
}

// ttlFor rounds d up to whole seconds, at least one.
func ttlFor(d time.Duration) store.TTL {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return store.Seconds(uint64(secs))
}

// loadState decodes JSON state kept in the raw shape. Undecodable state is
// treated as missing.
func loadState(ctx context.Context, s store.RawStorage, key string, v any) (bool, error) {
	data, ok, err := s.LoadRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

func saveState(ctx context.Context, s store.RawStorage, key string, v any, ttl store.TTL) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.StoreRawWithExpiry(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to save bucket state: %w", err)
	}
	return nil
}

// bumpWindow adds one to a window counter and returns the new count. The
// first hit creates the counter; created reports that case.
func bumpWindow(ctx context.Context, s store.AtomicStorage, key string) (count int64, created bool, err error) {
	prev, ok, err := s.AtomicIncrement(ctx, key, 1)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return prev + 1, false, nil
	}
	if _, err := s.AtomicStore(ctx, key, 1); err != nil {
		return 0, false, err
	}
	return 1, true, nil
}

// windowIndex remembers the newest window counter this process created per
// key, so counters of keys that went idle can be deleted. Counters never
// expire on their own.
type windowIndex struct {
	mu     sync.Mutex
	newest map[string]int64
	swept  int64
}

type staleWindow struct {
	key    string
	window int64
}

func (ix *windowIndex) touch(key string, window int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.newest == nil {
		ix.newest = make(map[string]int64)
	}
	if w, ok := ix.newest[key]; !ok || window > w {
		ix.newest[key] = window
	}
}

// stale removes and returns keys whose newest counter is older than oldest,
// the oldest window still read. It runs at most once per current window.
func (ix *windowIndex) stale(current, oldest int64) []staleWindow {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if current <= ix.swept {
		return nil
	}
	ix.swept = current
	var out []staleWindow
	for key, w := range ix.newest {
		if w < oldest {
			out = append(out, staleWindow{key: key, window: w})
			delete(ix.newest, key)
		}
	}
	return out
}

func (ix *windowIndex) size() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.newest)
}

// sweepWindows deletes the counters of idle keys: the newest window and the
// one before it, which a sliding counter may still hold. Entries that fail
// to delete are kept for the next sweep.
func sweepWindows(ctx context.Context, s store.AtomicStorage, ix *windowIndex, prefix string, current, oldest int64) {
	for _, sw := range ix.stale(current, oldest) {
		for _, w := range []int64{sw.window, sw.window - 1} {
			if err := s.AtomicDelete(ctx, windowKey(prefix, sw.key, w)); err != nil {
				ix.touch(sw.key, sw.window)
				break
			}
		}
	}
}
