package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/session"
	"github.com/veldtlabs/authcore/token"
)

func saveRefreshRow(t *testing.T, env *testEnv, rec *session.Record) string {
	t.Helper()

	raw, err := token.GenerateSecureDefault()
	if err != nil {
		t.Fatalf("GenerateSecureDefault failed: %v", err)
	}
	if err := env.engine.sessions.Save(context.Background(), token.HashBytes(raw), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return raw
}

func TestJanitorSweep(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	now := time.Now()
	cfg := env.engine.config

	// Refresh rows: one expired, one revoked past retention, one revoked
	// recently, one active. The first two are garbage.
	saveRefreshRow(t, env, &session.Record{
		UserID:    "u1",
		FamilyID:  token.NewFamilyID(),
		ExpiresAt: now.Add(-time.Hour).Unix(),
		CreatedAt: now.Add(-48 * time.Hour).Unix(),
	})
	staleRevoked := saveRefreshRow(t, env, &session.Record{
		UserID:    "u1",
		FamilyID:  token.NewFamilyID(),
		ExpiresAt: now.Add(720 * time.Hour).Unix(),
		CreatedAt: now.Add(-8 * 24 * time.Hour).Unix(),
	})
	freshRevoked := saveRefreshRow(t, env, &session.Record{
		UserID:    "u1",
		FamilyID:  token.NewFamilyID(),
		ExpiresAt: now.Add(720 * time.Hour).Unix(),
		CreatedAt: now.Unix(),
	})
	for _, raw := range []string{staleRevoked, freshRevoked} {
		if _, _, err := env.engine.sessions.Revoke(ctx, token.HashBytes(raw)); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
	}
	active := saveRefreshRow(t, env, &session.Record{
		UserID:    "u2",
		FamilyID:  token.NewFamilyID(),
		ExpiresAt: now.Add(720 * time.Hour).Unix(),
		CreatedAt: now.Unix(),
	})

	// Reset rows: one expired, one live.
	if err := env.engine.resetStore.Save(ctx, token.HashBytes("reset-expired"), &stores.TokenRecord{
		UserID:    "u1",
		ExpiresAt: now.Add(-time.Minute).Unix(),
		CreatedAt: now.Add(-2 * time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := env.engine.resetStore.Save(ctx, token.HashBytes("reset-live"), &stores.TokenRecord{
		UserID:    "u1",
		ExpiresAt: now.Add(time.Hour).Unix(),
		CreatedAt: now.Unix(),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verification rows: one spent, one expired, one live.
	if err := env.engine.verifyStore.Save(ctx, token.HashBytes("verify-used"), &stores.TokenRecord{
		UserID:    "u1",
		ExpiresAt: now.Add(time.Hour).Unix(),
		CreatedAt: now.Unix(),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := env.engine.verifyStore.Consume(ctx, token.HashBytes("verify-used")); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := env.engine.verifyStore.Save(ctx, token.HashBytes("verify-expired"), &stores.TokenRecord{
		UserID:    "u1",
		ExpiresAt: now.Add(-time.Minute).Unix(),
		CreatedAt: now.Add(-25 * time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := env.engine.verifyStore.Save(ctx, token.HashBytes("verify-live"), &stores.TokenRecord{
		UserID:    "u1",
		ExpiresAt: now.Add(time.Hour).Unix(),
		CreatedAt: now.Unix(),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	janitor := NewJanitor(&redis.Options{Addr: env.mini.Addr()}, cfg)

	report, err := janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.RefreshTokensDeleted != 2 {
		t.Fatalf("RefreshTokensDeleted = %d, want 2", report.RefreshTokensDeleted)
	}
	if report.PasswordResetTokensDeleted != 1 {
		t.Fatalf("PasswordResetTokensDeleted = %d, want 1", report.PasswordResetTokensDeleted)
	}
	if report.EmailVerifyTokensDeleted != 2 {
		t.Fatalf("EmailVerifyTokensDeleted = %d, want 2", report.EmailVerifyTokensDeleted)
	}
	if report.TotalDeleted != 5 {
		t.Fatalf("TotalDeleted = %d, want 5", report.TotalDeleted)
	}

	// Survivors are untouched.
	if _, err := env.engine.sessions.Get(ctx, token.HashBytes(active)); err != nil {
		t.Fatalf("active refresh row deleted: %v", err)
	}
	if got, err := env.engine.sessions.Get(ctx, token.HashBytes(freshRevoked)); err != nil || !got.Revoked {
		t.Fatalf("recently revoked row gone or mutated: %+v, %v", got, err)
	}
	if _, err := env.engine.resetStore.Get(ctx, token.HashBytes("reset-live")); err != nil {
		t.Fatalf("live reset row deleted: %v", err)
	}
	if _, err := env.engine.verifyStore.Get(ctx, token.HashBytes("verify-live")); err != nil {
		t.Fatalf("live verify row deleted: %v", err)
	}

	// A second pass finds nothing left to delete.
	again, err := janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	if again.TotalDeleted != 0 {
		t.Fatalf("second TotalDeleted = %d, want 0", again.TotalDeleted)
	}
}

func TestJanitorSweepEmptyKeyspace(t *testing.T) {
	env := newTestEngine(t, nil)

	janitor := NewJanitor(&redis.Options{Addr: env.mini.Addr()}, env.engine.config)
	report, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.TotalDeleted != 0 {
		t.Fatalf("TotalDeleted = %d, want 0", report.TotalDeleted)
	}
}

func TestJanitorSweepUnreachableRedis(t *testing.T) {
	cfg := testConfig()
	janitor := NewJanitor(&redis.Options{Addr: "127.0.0.1:1"}, cfg)

	report, err := janitor.Sweep(context.Background())
	if err == nil {
		t.Fatal("Sweep against unreachable Redis succeeded")
	}
	if report.TotalDeleted != 0 {
		t.Fatalf("failed sweep reported %d deletions", report.TotalDeleted)
	}
	if !errors.Is(err, session.ErrRedisUnavailable) {
		t.Fatalf("error = %v, want session.ErrRedisUnavailable", err)
	}
}
