package permission

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestKeyKinds(t *testing.T) {
	cases := []struct {
		kind keyKind
		id   int64
		want string
	}{
		{keyUser, 42, "user-permissions:42"},
		{keyRole, 7, "role-permissions:7"},
		{keyTenantCeiling, 3, "tenant-ceiling:3"},
	}
	for _, tc := range cases {
		if got := tc.kind.key(tc.id); got != tc.want {
			t.Fatalf("key(%d) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	codes := []string{"EDIT_ORDERS", "VIEW_ORDERS"}
	if err := store.Set(ctx, "user-permissions:1", codes, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got []string
	ok, err := store.Get(ctx, "user-permissions:1", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0] != "EDIT_ORDERS" || got[1] != "VIEW_ORDERS" {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestRedisStoreMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	var got []string
	ok, err := store.Get(context.Background(), "user-permissions:404", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "role-permissions:9", []int64{1, 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Delete(ctx, "role-permissions:9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var got []int64
	ok, err := store.Get(ctx, "role-permissions:9", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "tenant-ceiling:5", []int64{1}, 30*time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(31 * time.Minute)

	var got []int64
	ok, err := store.Get(ctx, "tenant-ceiling:5", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to expire")
	}
}
