// pkg/idempotency/store_test.go
package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-service/pkg/cache"

	"go.uber.org/zap"
)

// memCache is a minimal in-memory cache.Cache for these tests. When down is
// set every operation fails, simulating an open breaker.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
	down bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

var errCacheDown = errors.New("cache down")

func (m *memCache) Get(ctx context.Context, namespace, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", errCacheDown
	}
	v, ok := m.data[namespace+":"+key]
	if !ok {
		return "", cache.Nil
	}
	return v, nil
}

func (m *memCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errCacheDown
	}
	m.data[namespace+":"+key] = value.(string)
	return nil
}

func (m *memCache) Delete(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errCacheDown
	}
	delete(m.data, namespace+":"+key)
	return nil
}

func (m *memCache) IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	return 0, errCacheDown
}
func (m *memCache) LPush(ctx context.Context, namespace, key string, value interface{}) error {
	return errCacheDown
}
func (m *memCache) RPush(ctx context.Context, namespace, key string, value interface{}) error {
	return errCacheDown
}
func (m *memCache) LPop(ctx context.Context, namespace, key string) (string, error) {
	return "", errCacheDown
}
func (m *memCache) LLen(ctx context.Context, namespace, key string) (int64, error) {
	return 0, errCacheDown
}
func (m *memCache) LRange(ctx context.Context, namespace, key string, start, stop int64) ([]string, error) {
	return nil, errCacheDown
}

func TestKey(t *testing.T) {
	got := Key("payWithWallet", "order-1", "user-1")
	want := "payWithWallet:order-1:user-1"
	if got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

func TestDoExecutesOnceAndReplays(t *testing.T) {
	store := New(newMemCache(), zap.NewNop())

	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"id":"tx-1"}`), nil
	}

	raw, replayed, err := store.Do(context.Background(), "op:k1", fn)
	if err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if replayed {
		t.Fatal("first call reported as replayed")
	}
	if string(raw) != `{"id":"tx-1"}` {
		t.Fatalf("first response = %s", raw)
	}

	raw, replayed, err = store.Do(context.Background(), "op:k1", fn)
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	if !replayed {
		t.Fatal("second call not replayed from cache")
	}
	if string(raw) != `{"id":"tx-1"}` {
		t.Fatalf("replayed response = %s", raw)
	}
	if calls != 1 {
		t.Fatalf("fn executed %d times, want 1", calls)
	}
}

func TestDoFailedExecutionIsNotCached(t *testing.T) {
	store := New(newMemCache(), zap.NewNop())

	calls := 0
	boom := errors.New("boom")
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	if _, _, err := store.Do(context.Background(), "op:k2", fn); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// The failure left no cached terminal outcome; a retry re-executes.
	raw, replayed, err := store.Do(context.Background(), "op:k2", fn)
	if err != nil {
		t.Fatalf("retry Do: %v", err)
	}
	if replayed {
		t.Fatal("retry was replayed, want fresh execution")
	}
	if string(raw) != "ok" || calls != 2 {
		t.Fatalf("raw = %s, calls = %d", raw, calls)
	}
}

func TestDoDegradesWhenCacheUnavailable(t *testing.T) {
	mc := newMemCache()
	mc.down = true
	store := New(mc, zap.NewNop())

	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	for i := 0; i < 2; i++ {
		raw, replayed, err := store.Do(context.Background(), "op:k3", fn)
		if err != nil {
			t.Fatalf("Do with cache down: %v", err)
		}
		if replayed {
			t.Fatal("replayed with cache down")
		}
		if string(raw) != "ok" {
			t.Fatalf("raw = %s", raw)
		}
	}
	if calls != 2 {
		t.Fatalf("fn executed %d times, want 2 (no dedup without cache)", calls)
	}
}
