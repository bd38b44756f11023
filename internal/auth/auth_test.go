package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/openrouter-alt/gateway/internal/db"
	"github.com/openrouter-alt/gateway/internal/models"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open test db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate test db: %v", errMigrate)
	}
	return conn
}

func seedAccount(t *testing.T, conn *gorm.DB, status string) models.Account {
	t.Helper()
	account := models.Account{
		Email:       "caller@example.com",
		LaCookie:    "la-token-0123456789",
		CfClearance: "cf-token-0123456789",
		Tier:        models.TierFree,
		Status:      status,
	}
	if errCreate := conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("seed account: %v", errCreate)
	}
	return account
}

func TestExtractCredentialsHeadersWinOverCookies(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("Cookie", "LA_COOKIE=cookie-la-value; CF_CLEARANCE=cookie-cf-value")
	r.Header.Set(HeaderLaCookie, "header-la-value")
	r.Header.Set(HeaderCfClearance, "header-cf-value")

	creds := ExtractCredentials(r)
	if creds.LaCookie != "header-la-value" {
		t.Fatalf("expected header token to win, got %q", creds.LaCookie)
	}
	if creds.CfClearance != "header-cf-value" {
		t.Fatalf("expected header token to win, got %q", creds.CfClearance)
	}
}

func TestExtractCredentialsFromCookieSubValues(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("Cookie", "other=1; LA_COOKIE=cookie-la-value; CF_CLEARANCE=cookie-cf-value")

	creds := ExtractCredentials(r)
	if creds.LaCookie != "cookie-la-value" || creds.CfClearance != "cookie-cf-value" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestAuthenticateRejectsShortTokens(t *testing.T) {
	conn := openTestDB(t)
	authenticator := NewAuthenticator(conn)

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set(HeaderLaCookie, "short")
	r.Header.Set(HeaderCfClearance, "cf-token-0123456789")

	if _, errAuth := authenticator.Authenticate(context.Background(), r); errAuth != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", errAuth)
	}
}

func TestAuthenticateRejectsMissingTokens(t *testing.T) {
	conn := openTestDB(t)
	authenticator := NewAuthenticator(conn)

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	if _, errAuth := authenticator.Authenticate(context.Background(), r); errAuth != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", errAuth)
	}
}

func TestAuthenticateUnknownPair(t *testing.T) {
	conn := openTestDB(t)
	authenticator := NewAuthenticator(conn)

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set(HeaderLaCookie, "la-token-0123456789")
	r.Header.Set(HeaderCfClearance, "cf-token-0123456789")

	if _, errAuth := authenticator.Authenticate(context.Background(), r); errAuth != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", errAuth)
	}
}

func TestAuthenticateSuspendedAccountIndistinguishableFromUnknown(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, models.AccountStatusSuspended)
	authenticator := NewAuthenticator(conn)

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set(HeaderLaCookie, "la-token-0123456789")
	r.Header.Set(HeaderCfClearance, "cf-token-0123456789")

	if _, errAuth := authenticator.Authenticate(context.Background(), r); errAuth != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound for suspended account, got %v", errAuth)
	}
}

func TestAuthenticateActiveAccountTouchesLastAccess(t *testing.T) {
	conn := openTestDB(t)
	seeded := seedAccount(t, conn, models.AccountStatusActive)
	authenticator := NewAuthenticator(conn)

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("Cookie", "LA_COOKIE=la-token-0123456789; CF_CLEARANCE=cf-token-0123456789")

	account, errAuth := authenticator.Authenticate(context.Background(), r)
	if errAuth != nil {
		t.Fatalf("authenticate: %v", errAuth)
	}
	if account.ID != seeded.ID {
		t.Fatalf("expected account %d, got %d", seeded.ID, account.ID)
	}

	var reloaded models.Account
	if errFind := conn.First(&reloaded, seeded.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.LastAccessAt == nil {
		t.Fatalf("expected last_access_at to be set")
	}
}
