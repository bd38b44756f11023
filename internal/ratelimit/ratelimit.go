// Package ratelimit implements the per-account sliding-window rate limiter
// backed by a transactional counter table.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Granularity tags the window width recorded on each counter row.
const Granularity = "minute"

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed bool

	RequestLimit     int64
	RequestRemaining int64
	TokenLimit       int64
	TokenRemaining   int64

	WindowStart int64 // Window start, epoch seconds.
	ResetAt     int64 // Window end, epoch seconds.
	RetryAfter  int64 // Seconds until the window resets; set when denied.
}

// Service checks and increments per-account rate windows.
type Service struct {
	db  *gorm.DB
	cfg config.RateLimitConfig

	// now is overridable for tests.
	now func() time.Time
}

// NewService constructs a rate limit Service.
func NewService(db *gorm.DB, cfg config.RateLimitConfig) *Service {
	return &Service{db: db, cfg: cfg, now: time.Now}
}

// windowSeconds returns the configured window width in whole seconds.
func (s *Service) windowSeconds() int64 {
	seconds := int64(s.cfg.WindowSize.Std() / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// currentWindowStart aligns the given instant to the window grid.
func (s *Service) currentWindowStart(at time.Time) int64 {
	width := s.windowSeconds()
	return at.Unix() / width * width
}

// quotasFor derives the window quotas from the account tier.
func (s *Service) quotasFor(account *models.Account) (requestLimit, tokenLimit int64) {
	multiplier := account.TierMultiplier()
	return s.cfg.BaseRequests * multiplier, s.cfg.BaseTokens * multiplier
}

// ReserveRequest atomically admits one request against the account's current
// window. Admission and the count increment are a single guarded UPDATE, so
// concurrent requests can never push request_count past request_limit.
func (s *Service) ReserveRequest(ctx context.Context, account *models.Account) (*Decision, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ratelimit: nil service")
	}
	if account == nil {
		return nil, errors.New("ratelimit: nil account")
	}

	now := s.now().UTC()
	windowStart := s.currentWindowStart(now)
	if errEnsure := s.ensureWindow(ctx, account, windowStart); errEnsure != nil {
		return nil, errEnsure
	}

	res := s.db.WithContext(ctx).
		Model(&models.RateWindow{}).
		Where("account_id = ? AND window_start = ? AND granularity = ?", account.ID, windowStart, Granularity).
		Where("request_count < request_limit").
		Updates(map[string]any{
			"request_count": gorm.Expr("request_count + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("ratelimit: reserve: %w", res.Error)
	}

	window, errLoad := s.loadWindow(ctx, account.ID, windowStart)
	if errLoad != nil {
		return nil, errLoad
	}

	decision := s.decisionFromWindow(window, now)
	decision.Allowed = res.RowsAffected > 0

	if decision.Allowed {
		s.maybeSweep()
	}
	return decision, nil
}

// AddTokens feeds a request's token usage back into the account's current
// window. Tokens are tracked, not gated: this increment never rejects.
func (s *Service) AddTokens(ctx context.Context, account *models.Account, tokens int64) error {
	if s == nil || s.db == nil {
		return errors.New("ratelimit: nil service")
	}
	if account == nil {
		return errors.New("ratelimit: nil account")
	}
	if tokens <= 0 {
		return nil
	}

	now := s.now().UTC()
	windowStart := s.currentWindowStart(now)
	if errEnsure := s.ensureWindow(ctx, account, windowStart); errEnsure != nil {
		return errEnsure
	}

	res := s.db.WithContext(ctx).
		Model(&models.RateWindow{}).
		Where("account_id = ? AND window_start = ? AND granularity = ?", account.ID, windowStart, Granularity).
		Updates(map[string]any{
			"token_count": gorm.Expr("token_count + ?", tokens),
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("ratelimit: add tokens: %w", res.Error)
	}
	return nil
}

// ensureWindow lazily creates the counter row for (account, window). The
// unique bucket index makes concurrent creation converge on one row.
func (s *Service) ensureWindow(ctx context.Context, account *models.Account, windowStart int64) error {
	requestLimit, tokenLimit := s.quotasFor(account)
	row := models.RateWindow{
		AccountID:    account.ID,
		WindowStart:  windowStart,
		Granularity:  Granularity,
		RequestLimit: requestLimit,
		TokenLimit:   tokenLimit,
	}
	errCreate := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "window_start"}, {Name: "granularity"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if errCreate != nil {
		return fmt.Errorf("ratelimit: ensure window: %w", errCreate)
	}
	return nil
}

// loadWindow reads the counter row for telemetry.
func (s *Service) loadWindow(ctx context.Context, accountID uint64, windowStart int64) (*models.RateWindow, error) {
	var window models.RateWindow
	errFind := s.db.WithContext(ctx).
		Where("account_id = ? AND window_start = ? AND granularity = ?", accountID, windowStart, Granularity).
		Take(&window).Error
	if errFind != nil {
		return nil, fmt.Errorf("ratelimit: load window: %w", errFind)
	}
	return &window, nil
}

// decisionFromWindow fills the telemetry fields from a counter row.
func (s *Service) decisionFromWindow(window *models.RateWindow, now time.Time) *Decision {
	resetAt := window.WindowStart + s.windowSeconds()
	retryAfter := resetAt - now.Unix()
	if retryAfter < 1 {
		retryAfter = 1
	}

	requestRemaining := window.RequestLimit - window.RequestCount
	if requestRemaining < 0 {
		requestRemaining = 0
	}
	tokenRemaining := window.TokenLimit - window.TokenCount
	if tokenRemaining < 0 {
		tokenRemaining = 0
	}

	return &Decision{
		RequestLimit:     window.RequestLimit,
		RequestRemaining: requestRemaining,
		TokenLimit:       window.TokenLimit,
		TokenRemaining:   tokenRemaining,
		WindowStart:      window.WindowStart,
		ResetAt:          resetAt,
		RetryAfter:       retryAfter,
	}
}

// maybeSweep occasionally garbage-collects expired windows in the background.
// Sweeping is best-effort and never surfaces to the caller.
func (s *Service) maybeSweep() {
	if s.cfg.SweepProbability <= 0 {
		return
	}
	if rand.Float64() >= s.cfg.SweepProbability {
		return
	}
	go func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if deleted, errSweep := s.SweepExpired(sweepCtx); errSweep != nil {
			log.WithError(errSweep).Warn("ratelimit: sweep failed")
		} else if deleted > 0 {
			log.Debugf("ratelimit: swept %d expired windows", deleted)
		}
	}()
}

// SweepExpired deletes windows that ended at least two widths ago.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("ratelimit: nil service")
	}
	cutoff := s.currentWindowStart(s.now().UTC()) - 2*s.windowSeconds()
	res := s.db.WithContext(ctx).
		Where("window_start < ? AND granularity = ?", cutoff, Granularity).
		Delete(&models.RateWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("ratelimit: sweep: %w", res.Error)
	}
	return res.RowsAffected, nil
}
