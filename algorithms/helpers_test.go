package algorithms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codetesla51/kvshape/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// newTestClock starts at the beginning of a whole minute so window
// boundaries are predictable.
func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_040, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t testing.TB, clock *testClock) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})
	t.Cleanup(func() { s.Close() })
	return s
}

func allowN(t *testing.T, l RateLimiter, key string, n int) int {
	t.Helper()
	allowed := 0
	for i := 0; i < n; i++ {
		res, err := l.Allow(t.Context(), key)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}
	return allowed
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
