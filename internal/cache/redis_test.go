package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func stubRedis(t *testing.T, pingErr error) *string {
	t.Helper()
	origNewClient := newRedisClient
	origPing := pingRedis
	t.Cleanup(func() {
		newRedisClient = origNewClient
		pingRedis = origPing
	})

	var capturedAddr string
	newRedisClient = func(opts *redis.Options) *redis.Client {
		capturedAddr = opts.Addr
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return pingErr
	}
	return &capturedAddr
}

func TestNewRedisClientWithCustomAddr(t *testing.T) {
	addr := stubRedis(t, nil)

	client, err := NewRedisClient(context.Background(), "redis:9999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "redis:9999" {
		t.Fatalf("expected custom addr, got %s", *addr)
	}
}

func TestNewRedisClientDefaults(t *testing.T) {
	addr := stubRedis(t, nil)

	client, err := NewRedisClient(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "localhost:6379" {
		t.Fatalf("expected default addr, got %s", *addr)
	}
}

func TestNewRedisClientParsesURL(t *testing.T) {
	addr := stubRedis(t, nil)

	client, err := NewRedisClient(context.Background(), "redis://cache.internal:6380/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "cache.internal:6380" {
		t.Fatalf("expected parsed addr, got %s", *addr)
	}
}

func TestNewRedisClientPingFailure(t *testing.T) {
	stubRedis(t, errors.New("refused"))

	if _, err := NewRedisClient(context.Background(), "localhost:1"); err == nil {
		t.Fatal("expected ping failure to surface")
	}
}

// fakeCmdable records SET/GET through the go-redis command types without a server.
type fakeCmdable struct {
	redis.Cmdable
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key)
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttl[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func TestRedisJSONRoundTrip(t *testing.T) {
	fake := newFakeCmdable()
	r := NewRedis(fake, "smartflow:")
	ctx := context.Background()

	var got map[string]int
	ok, err := r.GetJSON(ctx, "k", &got)
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := r.SetJSON(ctx, "k", map[string]int{"n": 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if fake.ttl["smartflow:k"] != time.Minute {
		t.Fatalf("expected prefixed key with ttl, got %v", fake.ttl)
	}

	ok, err = r.GetJSON(ctx, "k", &got)
	if err != nil || !ok || got["n"] != 3 {
		t.Fatalf("expected hit, got ok=%v err=%v val=%v", ok, err, got)
	}

	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, exists := fake.data["smartflow:k"]; exists {
		t.Fatal("expected key removed")
	}
}

func TestRedisGetJSONRejectsCorruptValue(t *testing.T) {
	fake := newFakeCmdable()
	fake.data["p:k"] = "{not json"
	r := NewRedis(fake, "p:")

	var dst map[string]any
	if _, err := r.GetJSON(context.Background(), "k", &dst); err == nil {
		t.Fatal("expected decode error")
	}
}
