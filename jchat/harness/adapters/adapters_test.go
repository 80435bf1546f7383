package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/journey-chat/jchat/db"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), 3600))
	value, ok := cache.Get(ctx, "key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), value)

	require.NoError(t, cache.Set(ctx, "key2", []byte("value2"), 3600))
	require.NoError(t, cache.Set(ctx, "key3", []byte("value3"), 3600))

	// key1 is least recently used
	_, ok = cache.Get(ctx, "key1")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "key2")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "key3")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), 0)
	_ = cache.Set(ctx, "b", []byte("2"), 0)
	_, _ = cache.Get(ctx, "a")
	_ = cache.Set(ctx, "c", []byte("3"), 0)

	_, ok := cache.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	cache := NewLRUCache(4)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "short", []byte("x"), 10)
	_ = cache.Set(ctx, "forever", []byte("y"), 0)

	now = now.Add(11 * time.Second)
	_, ok := cache.Get(ctx, "short")
	assert.False(t, ok)

	now = now.Add(24 * time.Hour)
	v, ok := cache.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, []byte("y"), v)
}

func TestLRUCache_ReturnsCopies(t *testing.T) {
	cache := NewLRUCache(1)
	ctx := context.Background()

	src := []byte("catalog")
	_ = cache.Set(ctx, "k", src, 0)
	src[0] = 'X'

	got, _ := cache.Get(ctx, "k")
	got[1] = 'Y'

	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, []byte("catalog"), again)
}

func TestLRUCache_Delete(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	require.NoError(t, cache.Delete(ctx, "k"))
	require.NoError(t, cache.Delete(ctx, "missing"))

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTokenBucket_BasicRateLimiting(t *testing.T) {
	limiter := NewTokenBucket(2, time.Hour).WithMaxWait(0)
	ctx := context.Background()

	release1, err := limiter.Acquire(ctx, "model")
	assert.NoError(t, err)
	assert.NotNil(t, release1)

	release2, err := limiter.Acquire(ctx, "model")
	assert.NoError(t, err)
	release2()

	_, err = limiter.Acquire(ctx, "model")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// separate keys have separate buckets
	_, err = limiter.Acquire(ctx, "toolhost")
	assert.NoError(t, err)
}

func TestTokenBucket_Refill(t *testing.T) {
	limiter := NewTokenBucket(1, time.Second).WithMaxWait(0)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "k")
	require.NoError(t, err)
	_, err = limiter.Acquire(ctx, "k")
	require.Error(t, err)

	now = now.Add(time.Second)
	_, err = limiter.Acquire(ctx, "k")
	assert.NoError(t, err)
}

func TestTokenBucket_WaitsForRefill(t *testing.T) {
	limiter := NewTokenBucket(1, 20*time.Millisecond).WithMaxWait(time.Second)
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "k")
	require.NoError(t, err)

	start := time.Now()
	_, err = limiter.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTokenBucket_ContextCancelled(t *testing.T) {
	limiter := NewTokenBucket(1, time.Minute).WithMaxWait(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := limiter.Acquire(ctx, "k")
	require.NoError(t, err)

	cancel()
	_, err = limiter.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestZerologTracer_SpanLifecycle(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "tool_call", map[string]any{"tool": "list_journeys"})
	tracer.Event(ctx, "catalog_hit", map[string]any{"size": 3})
	finish(&ports.NotFoundError{Name: "nope"})

	out := buf.String()
	assert.Contains(t, out, `"span":"tool_call"`)
	assert.Contains(t, out, `"tool":"list_journeys"`)
	assert.Contains(t, out, `"event":"span_start"`)
	assert.Contains(t, out, `"event":"catalog_hit"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.Contains(t, out, `"error_kind":"not_found"`)
}

func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "catalog_refreshed", nil)
	assert.Contains(t, buf.String(), `"event":"catalog_refreshed"`)
	assert.NotContains(t, buf.String(), `"span"`)
}

func TestLibSQLAuditSink_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Connect(ctx, filepath.Join(t.TempDir(), "audit.db"), zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	sink := NewLibSQLAuditSink(conn)
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Record(ctx, ports.AuditRecord{
			SessionID: "s1",
			ToolName:  fmt.Sprintf("tool_%d", i),
			Arguments: `{"journey_id":"j1"}`,
			Outcome:   "ok",
			Duration:  time.Duration(i+1) * time.Millisecond,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, sink.Record(ctx, ports.AuditRecord{
		SessionID: "s1",
		ToolName:  "get_email_reports",
		Outcome:   "error",
		ErrorKind: ports.Kind(&ports.ValidationError{ToolName: "get_email_reports"}),
	}))

	recent, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "get_email_reports", recent[0].ToolName)
	assert.Equal(t, "validation", recent[0].ErrorKind)
	assert.Equal(t, "{}", recent[0].Arguments)
	assert.Equal(t, "tool_2", recent[1].ToolName)
	assert.Equal(t, 3*time.Millisecond, recent[1].Duration)
	assert.True(t, base.Add(2*time.Second).Equal(recent[1].CreatedAt))
}

func TestLibSQLAuditSink_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Connect(ctx, filepath.Join(t.TempDir(), "audit.db"), zerolog.Nop())
	require.NoError(t, err)
	conn.Close()

	err = NewLibSQLAuditSink(conn).Record(ctx, ports.AuditRecord{ToolName: "x", Outcome: "ok"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimitExceeded))
}

func BenchmarkLRUCache_SetGet(b *testing.B) {
	cache := NewLRUCache(1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i)
		_ = cache.Set(ctx, key, []byte("value"), 3600)
		cache.Get(ctx, key)
	}
}
