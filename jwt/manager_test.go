package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func hsConfig() Config {
	return Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		TicketTTL:     10 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret-key"),
		Issuer:        "authkit-test",
	}
}

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newHSManager(t)

	token, err := m.CreateAccess("u1", "s1", []string{"buyer", "seller"})
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "u1" || claims.SID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "buyer" {
		t.Fatalf("roles not preserved: %v", claims.Roles)
	}
	if claims.Issuer != "authkit-test" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newHSManager(t)

	token, err := m.CreateRefresh("u1", "s1", "jti-123")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}

	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.Subject != "u1" || claims.SID != "s1" || claims.ID != "jti-123" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTicketRoundTrip(t *testing.T) {
	m := newHSManager(t)

	token, err := m.CreateTicket("user@example.com", "signup", "email", "jti-t")
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	claims, err := m.ParseTicket(token)
	if err != nil {
		t.Fatalf("ParseTicket failed: %v", err)
	}
	if claims.Subject != "user@example.com" || claims.Purpose != "signup" || claims.Channel != "email" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID != "jti-t" {
		t.Fatalf("jti = %q", claims.ID)
	}
}

func TestFamiliesDoNotCross(t *testing.T) {
	m := newHSManager(t)

	access, _ := m.CreateAccess("u1", "s1", nil)
	refresh, _ := m.CreateRefresh("u1", "s1", "jti-1")
	ticket, _ := m.CreateTicket("u1", "reset", "sms", "jti-2")

	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
	if _, err := m.ParseAccess(ticket); err == nil {
		t.Fatal("ticket accepted as access token")
	}
	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
	if _, err := m.ParseTicket(access); err == nil {
		t.Fatal("access token accepted as ticket")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := hsConfig()
	cfg.AccessTTL = time.Millisecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("u1", "s1", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestWrongKeyRejected(t *testing.T) {
	m := newHSManager(t)

	other := hsConfig()
	other.PrivateKey = []byte("a-different-secret")
	m2, err := NewManager(other)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("u1", "s1", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := m2.ParseAccess(token); err == nil {
		t.Fatal("token verified under a different key")
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	cfg := hsConfig()
	cfg.Issuer = "someone-else"
	m2, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	m := newHSManager(t)
	token, err := m.CreateAccess("u1", "s1", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := m2.ParseAccess(token); err == nil {
		t.Fatal("token with foreign issuer accepted")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		TicketTTL:     10 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateRefresh("u1", "s1", "jti-ed")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}
	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.ID != "jti-ed" {
		t.Fatalf("jti = %q", claims.ID)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"excessive leeway", func(c *Config) { c.Leeway = 5 * time.Minute }},
		{"hs256 without key", func(c *Config) { c.PrivateKey = nil }},
		{"unknown method", func(c *Config) { c.SigningMethod = "rs512" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := hsConfig()
			tc.mutate(&cfg)
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}

	t.Run("ed25519 without public key", func(t *testing.T) {
		_, priv, _ := ed25519.GenerateKey(rand.Reader)
		_, err := NewManager(Config{
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Minute,
			TicketTTL:     time.Minute,
			SigningMethod: MethodEd25519,
			PrivateKey:    priv,
		})
		if err == nil {
			t.Fatal("expected configuration error")
		}
	})
}
