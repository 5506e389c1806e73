package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func verifiedTicket(t *testing.T, engine *Engine, sender *mockSender, purpose Purpose, identifier string) string {
	t.Helper()

	ctx := context.Background()
	if _, err := engine.RequestChallenge(ctx, purpose, ChannelEmail, identifier); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	result, err := engine.VerifyChallenge(ctx, purpose, ChannelEmail, identifier, sender.lastCode(t))
	if err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}
	return result.Ticket
}

func TestSetPasswordSignupFlow(t *testing.T) {
	_, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	ticket := verifiedTicket(t, engine, sender, PurposeSignup, "alice@example.com")

	userID, err := engine.SetPassword(ctx, ticket, "brand-new-password")
	if err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if userID == "" {
		t.Fatal("expected a user id")
	}

	// The new credential logs in.
	result, err := engine.Login(ctx, "alice@example.com", "brand-new-password")
	if err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
	if result.UserID != userID {
		t.Fatalf("login resolved %q, setpassword created %q", result.UserID, userID)
	}
}

func TestSetPasswordTicketSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	ticket := verifiedTicket(t, engine, sender, PurposeSignup, "bob@example.com")

	if _, err := engine.SetPassword(ctx, ticket, "brand-new-password"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if _, err := engine.SetPassword(ctx, ticket, "another-password-1"); !errors.Is(err, ErrTicketUsed) {
		t.Fatalf("expected ErrTicketUsed on second consumption, got %v", err)
	}
}

func TestSetPasswordWeakPasswordPreservesTicket(t *testing.T) {
	_, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	ticket := verifiedTicket(t, engine, sender, PurposeSignup, "carol@example.com")

	if _, err := engine.SetPassword(ctx, ticket, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	// The rejection happened before consumption: the ticket still works.
	if _, err := engine.SetPassword(ctx, ticket, "long-enough-password"); err != nil {
		t.Fatalf("SetPassword after weak attempt failed: %v", err)
	}
}

func TestSetPasswordExpiredTicket(t *testing.T) {
	mr, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	ticket := verifiedTicket(t, engine, sender, PurposeSignup, "dave@example.com")

	mr.FastForward(11 * time.Minute)
	time.Sleep(10 * time.Millisecond)

	if _, err := engine.SetPassword(ctx, ticket, "brand-new-password"); !errors.Is(err, ErrTicketInvalid) && !errors.Is(err, ErrTicketUsed) {
		t.Fatalf("expected expired ticket rejection, got %v", err)
	}
}

func TestSetPasswordGarbageTicket(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) { b.WithDirectory(dir) })

	if _, err := engine.SetPassword(context.Background(), "not-a-jwt", "brand-new-password"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("expected ErrTicketInvalid, got %v", err)
	}
}

func TestSetPasswordRejectsAccessTokenAsTicket(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) { b.WithDirectory(dir) })

	access, err := engine.tokens.CreateAccess("u1", "s1", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := engine.SetPassword(context.Background(), access, "brand-new-password"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("expected ErrTicketInvalid for access token, got %v", err)
	}
}

func TestSetPasswordUpsertRaceFallsBackToUpdate(t *testing.T) {
	_, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory(CredentialRecord{UserID: "u1", Email: "erin@example.com"})
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	ticket := verifiedTicket(t, engine, sender, PurposeLogin, "erin@example.com")

	dir.upsertErr = ErrDuplicateIdentifier
	dir.upsertErrOnce = true

	userID, err := engine.SetPassword(ctx, ticket, "brand-new-password")
	if err != nil {
		t.Fatalf("SetPassword with racing upsert failed: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("expected fallback to existing record u1, got %q", userID)
	}
	if dir.updateCalls != 1 {
		t.Fatalf("expected one UpdatePasswordHash fallback call, got %d", dir.updateCalls)
	}
}

func TestSetPasswordResetRevokesSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	sender := &mockSender{}
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) {
		b.WithSender(sender)
		b.WithDirectory(dir)
	})

	ctx := context.Background()
	seedUser(t, engine, dir, CredentialRecord{
		UserID: "u1",
		Email:  "frank@example.com",
	}, "old-password-value")

	login, err := engine.Login(ctx, "frank@example.com", "old-password-value")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	ticket := verifiedTicket(t, engine, sender, PurposeReset, "frank@example.com")
	if _, err := engine.SetPassword(ctx, ticket, "new-password-value"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	sessions, err := engine.Sessions(ctx, "u1")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected sessions revoked after reset, got %d", len(sessions))
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected old refresh token dead after reset, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) { b.WithDirectory(dir) })

	ctx := context.Background()
	seedUser(t, engine, dir, CredentialRecord{
		UserID: "u1",
		Email:  "gina@example.com",
	}, "old-password-value")

	if err := engine.ChangePassword(ctx, "u1", "wrong-current-pass", "new-password-value"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "u1", "old-password-value", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "u1", "old-password-value", "new-password-value"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := engine.Login(ctx, "gina@example.com", "old-password-value"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still valid: %v", err)
	}
	if _, err := engine.Login(ctx, "gina@example.com", "new-password-value"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangePasswordRequiresBaseline(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory(CredentialRecord{UserID: "u1", Email: "otp-only@example.com"})
	engine := newTestEngine(t, rdb, func(b *Builder) { b.WithDirectory(dir) })

	err := engine.ChangePassword(context.Background(), "u1", "anything-at-all", "new-password-value")
	if !errors.Is(err, ErrPasswordNotSet) {
		t.Fatalf("expected ErrPasswordNotSet, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, func(b *Builder) { b.WithDirectory(dir) })

	ctx := context.Background()
	seedUser(t, engine, dir, CredentialRecord{
		UserID: "u1",
		Email:  "hank@example.com",
	}, "old-password-value")

	login, err := engine.Login(ctx, "hank@example.com", "old-password-value")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", "old-password-value", "new-password-value"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected sessions revoked after change, got %v", err)
	}
}
