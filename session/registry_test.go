package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*miniredis.Miniredis, *Registry) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRegistry(client, "session", "refresh:allow", time.Hour)
}

func testSession(userID, id string, lastUsed int64) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		IP:         "198.51.100.7",
		UserAgent:  "test-agent",
		CreatedAt:  lastUsed,
		LastUsedAt: lastUsed,
	}
}

func TestRegistryCreateGet(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	want := testSession("u1", "s1", 1000)
	if err := reg.Create(ctx, want); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := reg.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "s1" || got.UserID != "u1" || got.IP != want.IP || got.LastUsedAt != 1000 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := reg.Get(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Get(ctx, "other", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sessions must be scoped per user, got %v", err)
	}
}

func TestRegistryListOrder(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		sess := testSession("u1", fmt.Sprintf("s%d", i), int64(1000*i))
		if err := reg.Create(ctx, sess); err != nil {
			t.Fatalf("Create s%d failed: %v", i, err)
		}
	}

	sessions, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"s3", "s2", "s1"} {
		if sessions[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, sessions[i].ID, want)
		}
	}

	count, err := reg.Count(ctx, "u1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count = %d, want 3", count)
	}
}

func TestRegistryListRepairsStaleEntries(t *testing.T) {
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := reg.Create(ctx, testSession("u1", fmt.Sprintf("s%d", i), int64(1000*i))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	mr.Del("session:u1:s2")

	sessions, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected stale entry dropped, got %d sessions", len(sessions))
	}

	members, err := mr.ZMembers("session:index:z:u1")
	if err != nil {
		t.Fatalf("reading recency index: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("recency index not repaired: %v", members)
	}
	for _, m := range members {
		if m == "s2" {
			t.Fatal("s2 still indexed after repair")
		}
	}
}

func TestRegistryListPage(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := reg.Create(ctx, testSession("u1", fmt.Sprintf("s%d", i), int64(1000*i))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := reg.ListPage(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "s4" || page[1].ID != "s3" {
		t.Fatalf("unexpected page: %+v", page)
	}

	tail, err := reg.ListPage(ctx, "u1", 4, 10)
	if err != nil {
		t.Fatalf("ListPage tail failed: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != "s1" {
		t.Fatalf("unexpected tail page: %+v", tail)
	}

	empty, err := reg.ListPage(ctx, "u1", 100, 10)
	if err != nil {
		t.Fatalf("ListPage past end failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestRegistryTouch(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Create(ctx, testSession("u1", "s1", 1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := reg.Create(ctx, testSession("u1", "s2", 2000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := reg.Touch(ctx, "u1", "s1", time.Unix(3000, 0)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := reg.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastUsedAt != 3000 {
		t.Fatalf("LastUsedAt = %d, want 3000", got.LastUsedAt)
	}

	sessions, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if sessions[0].ID != "s1" {
		t.Fatalf("touched session not first: %s", sessions[0].ID)
	}

	if err := reg.Touch(ctx, "u1", "gone", time.Unix(3000, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing session, got %v", err)
	}
}

func TestRegistryJTILinkage(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.LinkJTI(ctx, "u1", "s1", "jti-1", time.Hour); err != nil {
		t.Fatalf("LinkJTI failed: %v", err)
	}

	userID, sessionID, err := reg.FindByJTI(ctx, "jti-1")
	if err != nil {
		t.Fatalf("FindByJTI failed: %v", err)
	}
	if userID != "u1" || sessionID != "s1" {
		t.Fatalf("FindByJTI = %s/%s, want u1/s1", userID, sessionID)
	}

	if err := reg.UnlinkJTI(ctx, "u1", "s1", "jti-1"); err != nil {
		t.Fatalf("UnlinkJTI failed: %v", err)
	}
	if _, _, err := reg.FindByJTI(ctx, "jti-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after unlink, got %v", err)
	}
}

func TestRegistryRevokeClearsAllowList(t *testing.T) {
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Create(ctx, testSession("u1", "s1", 1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, jti := range []string{"jti-a", "jti-b"} {
		if err := reg.LinkJTI(ctx, "u1", "s1", jti, time.Hour); err != nil {
			t.Fatalf("LinkJTI %s failed: %v", jti, err)
		}
		mr.Set("refresh:allow:"+jti, "u1:s1")
	}

	if err := reg.Revoke(ctx, "u1", "s1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if _, err := reg.Get(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived revoke: %v", err)
	}
	for _, jti := range []string{"jti-a", "jti-b"} {
		if mr.Exists("refresh:allow:" + jti) {
			t.Fatalf("allow entry %s survived revoke", jti)
		}
		if _, _, err := reg.FindByJTI(ctx, jti); !errors.Is(err, ErrNotFound) {
			t.Fatalf("reverse entry %s survived revoke: %v", jti, err)
		}
	}
}

func TestRegistryRevokeAll(t *testing.T) {
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := reg.Create(ctx, testSession("u1", id, int64(1000*i))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := reg.LinkJTI(ctx, "u1", id, "jti-"+id, time.Hour); err != nil {
			t.Fatalf("LinkJTI failed: %v", err)
		}
	}
	if err := reg.Create(ctx, testSession("u2", "other", 1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := reg.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("RevokeAll = %d, want 3", n)
	}

	sessions, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions survived RevokeAll: %d", len(sessions))
	}
	if mr.Exists("session:index:u1") || mr.Exists("session:index:z:u1") {
		t.Fatal("indexes survived RevokeAll")
	}

	// Another user is untouched.
	if _, err := reg.Get(ctx, "u2", "other"); err != nil {
		t.Fatalf("unrelated session broken: %v", err)
	}
}

func TestRegistryTouchRestartsTTL(t *testing.T) {
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Create(ctx, testSession("u1", "s1", 1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := reg.LinkJTI(ctx, "u1", "s1", "jti-1", time.Hour); err != nil {
		t.Fatalf("LinkJTI failed: %v", err)
	}

	// Registry TTL is one hour. Touched at 40 minutes, the record must
	// outlive its original deadline and expire an hour after the touch.
	mr.FastForward(40 * time.Minute)
	if err := reg.Touch(ctx, "u1", "s1", time.Unix(4000, 0)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	mr.FastForward(40 * time.Minute)
	if _, err := reg.Get(ctx, "u1", "s1"); err != nil {
		t.Fatalf("session died at its original deadline: %v", err)
	}
	// The indexes and the JTI set slide with the record.
	if !mr.Exists("session:index:u1") || !mr.Exists("session:index:z:u1") {
		t.Fatal("per-user indexes expired before the touched record")
	}
	if !mr.Exists("session:jtis:u1:s1") {
		t.Fatal("JTI set expired before the touched record")
	}

	mr.FastForward(21 * time.Minute)
	if _, err := reg.Get(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry an hour after the touch, got %v", err)
	}
}

func TestRegistryRecordTTL(t *testing.T) {
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Create(ctx, testSession("u1", "s1", 1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := reg.Get(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record expired, got %v", err)
	}
	sessions, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expired session still listed: %+v", sessions)
	}
}
