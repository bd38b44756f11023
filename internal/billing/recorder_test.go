package billing

import (
	"context"
	"testing"
	"time"

	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/db"
	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/ratelimit"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func newTestRecorder(t *testing.T, conn *gorm.DB) *Recorder {
	t.Helper()
	pricing := NewPricingSource(conn, nil, 5*time.Minute)
	limiter := ratelimit.NewService(conn, config.RateLimitConfig{
		WindowSize:   config.Duration(time.Minute),
		BaseRequests: 60,
		BaseTokens:   100000,
	})
	return NewRecorder(conn, pricing, limiter, 0.001)
}

func createAccount(t *testing.T, conn *gorm.DB, tier string) *models.Account {
	t.Helper()
	account := &models.Account{
		Email:       tier + "@example.test",
		LaCookie:    "la-0123456789",
		CfClearance: "cf-0123456789",
		Tier:        tier,
		Status:      models.AccountStatusActive,
	}
	if errCreate := conn.Create(account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	return account
}

func TestRecordUsesDefaultPriceAndIgnoresTierOnPricingMiss(t *testing.T) {
	conn := openTestDB(t)
	recorder := newTestRecorder(t, conn)
	account := createAccount(t, conn, models.TierPremium)

	recorder.Record(context.Background(), account, "unpriced-model", TokenUsage{
		PromptTokens:     1500,
		CompletionTokens: 500,
		TotalTokens:      2000,
	}, "chat.completions", "req_test1")

	var row models.Usage
	if errFind := conn.Take(&row).Error; errFind != nil {
		t.Fatalf("load usage: %v", errFind)
	}
	if row.Cost != 0.002 {
		t.Fatalf("expected cost 0.002000 for 2000 tokens at default price, got %f", row.Cost)
	}
	if row.TotalTokens != 2000 {
		t.Fatalf("expected total tokens 2000, got %d", row.TotalTokens)
	}
}

func TestRecordAppliesRateCardAndTierMultiplier(t *testing.T) {
	conn := openTestDB(t)
	recorder := newTestRecorder(t, conn)
	account := createAccount(t, conn, models.TierEnterprise)

	pricing := models.ModelPricing{
		Model:                "claude-sonnet-4-20250514",
		PricePer1K:           0.01,
		Active:               true,
		FreeMultiplier:       1.0,
		PremiumMultiplier:    0.9,
		EnterpriseMultiplier: 0.8,
	}
	if errCreate := conn.Create(&pricing).Error; errCreate != nil {
		t.Fatalf("create pricing: %v", errCreate)
	}

	recorder.Record(context.Background(), account, "claude-sonnet-4-20250514", TokenUsage{
		PromptTokens:     800,
		CompletionTokens: 200,
		TotalTokens:      1000,
	}, "chat.completions", "req_test2")

	var row models.Usage
	if errFind := conn.Take(&row).Error; errFind != nil {
		t.Fatalf("load usage: %v", errFind)
	}
	// (1000/1000) * 0.01 * 0.8
	if row.Cost != 0.008 {
		t.Fatalf("expected cost 0.008, got %f", row.Cost)
	}
}

func TestRecordFeedsTokensIntoCurrentRateWindow(t *testing.T) {
	conn := openTestDB(t)
	recorder := newTestRecorder(t, conn)
	account := createAccount(t, conn, models.TierFree)

	recorder.Record(context.Background(), account, "some-model", TokenUsage{
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
	}, "chat.completions", "req_test3")

	var window models.RateWindow
	if errFind := conn.Where("account_id = ?", account.ID).Take(&window).Error; errFind != nil {
		t.Fatalf("load window: %v", errFind)
	}
	if window.TokenCount != 30 {
		t.Fatalf("expected token_count 30, got %d", window.TokenCount)
	}
}

func TestRecordComputesTotalWhenMissing(t *testing.T) {
	conn := openTestDB(t)
	recorder := newTestRecorder(t, conn)
	account := createAccount(t, conn, models.TierFree)

	recorder.Record(context.Background(), account, "some-model", TokenUsage{
		PromptTokens:     7,
		CompletionTokens: 5,
	}, "chat.completions", "req_test4")

	var row models.Usage
	if errFind := conn.Take(&row).Error; errFind != nil {
		t.Fatalf("load usage: %v", errFind)
	}
	if row.TotalTokens != 12 {
		t.Fatalf("expected computed total 12, got %d", row.TotalTokens)
	}
}

func TestRoundCost(t *testing.T) {
	if got := RoundCost(0.0000014999); got != 0.000001 {
		t.Fatalf("expected 0.000001, got %.10f", got)
	}
	if got := RoundCost(2.0 * 0.001 * 1.0); got != 0.002 {
		t.Fatalf("expected 0.002000, got %.10f", got)
	}
}

func TestPricingCacheServesSecondLookup(t *testing.T) {
	conn := openTestDB(t)
	source := NewPricingSource(conn, nil, time.Minute)
	ctx := context.Background()

	pricing := models.ModelPricing{Model: "cached-model", PricePer1K: 0.5, Active: true, FreeMultiplier: 1, PremiumMultiplier: 1, EnterpriseMultiplier: 1}
	if errCreate := conn.Create(&pricing).Error; errCreate != nil {
		t.Fatalf("create pricing: %v", errCreate)
	}

	first, found, errFirst := source.Lookup(ctx, "cached-model")
	if errFirst != nil || !found {
		t.Fatalf("first lookup: found=%v err=%v", found, errFirst)
	}

	// Mutate the row behind the cache; the cached value must keep serving
	// until the TTL expires or the entry is invalidated.
	if errUpdate := conn.Model(&models.ModelPricing{}).Where("model = ?", "cached-model").Update("price_per_1k", 9.9).Error; errUpdate != nil {
		t.Fatalf("update pricing: %v", errUpdate)
	}

	second, found, errSecond := source.Lookup(ctx, "cached-model")
	if errSecond != nil || !found {
		t.Fatalf("second lookup: found=%v err=%v", found, errSecond)
	}
	if second.PricePer1K != first.PricePer1K {
		t.Fatalf("expected cached price %f, got %f", first.PricePer1K, second.PricePer1K)
	}

	source.Invalidate(ctx, "cached-model")
	third, found, errThird := source.Lookup(ctx, "cached-model")
	if errThird != nil || !found {
		t.Fatalf("third lookup: found=%v err=%v", found, errThird)
	}
	if third.PricePer1K == first.PricePer1K {
		t.Fatal("expected invalidation to drop the cached price")
	}
}
