// Package auth resolves the caller's credential token pair to an active
// account. Tokens may arrive as dedicated headers or as cookie sub-values;
// header values take precedence.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openrouter-alt/gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Credential token sources.
const (
	HeaderLaCookie    = "X-LA-Cookie"
	HeaderCfClearance = "X-CF-Clearance"

	cookieLaCookie    = "LA_COOKIE"
	cookieCfClearance = "CF_CLEARANCE"
)

// minTokenLength is the shortest credential token accepted.
const minTokenLength = 10

// ErrMissingCredentials indicates the token pair is absent or malformed.
var ErrMissingCredentials = errors.New("missing or invalid cookie format")

// ErrAccountNotFound indicates no active account matches the token pair.
// Unknown and inactive accounts are deliberately indistinguishable here.
var ErrAccountNotFound = errors.New("user not found or inactive")

// Credentials is the extracted token pair.
type Credentials struct {
	LaCookie    string // First credential token.
	CfClearance string // Second credential token.
}

// Valid reports whether both tokens are present and long enough.
func (c Credentials) Valid() bool {
	return len(c.LaCookie) >= minTokenLength && len(c.CfClearance) >= minTokenLength
}

// Authenticator looks up accounts by their credential token pair.
type Authenticator struct {
	db *gorm.DB
}

// NewAuthenticator creates an authenticator backed by the given database.
func NewAuthenticator(db *gorm.DB) *Authenticator {
	return &Authenticator{db: db}
}

// ExtractCredentials pulls the token pair from the request. Dedicated headers
// win over cookie sub-values so callers can override a stale cookie jar.
func ExtractCredentials(r *http.Request) Credentials {
	if r == nil {
		return Credentials{}
	}

	creds := Credentials{}
	if cookie, errCookie := r.Cookie(cookieLaCookie); errCookie == nil {
		creds.LaCookie = strings.TrimSpace(cookie.Value)
	}
	if cookie, errCookie := r.Cookie(cookieCfClearance); errCookie == nil {
		creds.CfClearance = strings.TrimSpace(cookie.Value)
	}

	if v := strings.TrimSpace(r.Header.Get(HeaderLaCookie)); v != "" {
		creds.LaCookie = v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderCfClearance)); v != "" {
		creds.CfClearance = v
	}
	return creds
}

// Authenticate resolves the request to an active account. Failures are logged
// with token lengths only; token values never reach the logs.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*models.Account, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("auth: nil authenticator")
	}

	creds := ExtractCredentials(r)
	if !creds.Valid() {
		logFailure(r, creds, "credentials missing or malformed")
		return nil, ErrMissingCredentials
	}

	var account models.Account
	errFind := a.db.WithContext(ctx).
		Where("la_cookie = ? AND cf_clearance = ? AND status = ?", creds.LaCookie, creds.CfClearance, models.AccountStatusActive).
		First(&account).Error
	switch {
	case errFind == nil:
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		logFailure(r, creds, "no active account for token pair")
		return nil, ErrAccountNotFound
	default:
		return nil, fmt.Errorf("auth: account lookup failed: %w", errFind)
	}

	a.touchLastAccess(ctx, account.ID)

	return &account, nil
}

// touchLastAccess records the authentication time. Failures are logged and
// never fail the request.
func (a *Authenticator) touchLastAccess(ctx context.Context, accountID uint64) {
	now := time.Now().UTC()
	errUpdate := a.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("last_access_at", &now).Error
	if errUpdate != nil {
		log.WithError(errUpdate).WithField("accountID", accountID).Warn("auth: last access update failed")
	}
}

// logFailure records an authentication failure without exposing token values.
func logFailure(r *http.Request, creds Credentials, reason string) {
	fields := log.Fields{
		"laCookieLen":    len(creds.LaCookie),
		"cfClearanceLen": len(creds.CfClearance),
	}
	if r != nil {
		fields["remoteAddr"] = r.RemoteAddr
		fields["userAgent"] = r.UserAgent()
	}
	log.WithFields(fields).Warn("auth: " + reason)
}
