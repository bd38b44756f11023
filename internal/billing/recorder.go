// Package billing prices completed requests and persists the usage ledger.
package billing

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/ratelimit"
	"github.com/openrouter-alt/gateway/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TokenUsage is the usage triple reported by the upstream backend.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// usageDetail is the structured detail persisted with each ledger row.
type usageDetail struct {
	Endpoint   string  `json:"endpoint"`
	Tier       string  `json:"tier"`
	PricePer1K float64 `json:"price_per_1k"`
	Multiplier float64 `json:"multiplier"`
	PricedAs   string  `json:"priced_as"`
}

// Recorder persists usage records and feeds token counts back into the rate
// limiter. All of its failures are metering failures: logged, never surfaced.
type Recorder struct {
	db      *gorm.DB
	pricing *PricingSource
	limiter *ratelimit.Service

	defaultPricePer1K float64
}

// NewRecorder constructs a usage Recorder.
func NewRecorder(db *gorm.DB, pricing *PricingSource, limiter *ratelimit.Service, defaultPricePer1K float64) *Recorder {
	return &Recorder{
		db:                db,
		pricing:           pricing,
		limiter:           limiter,
		defaultPricePer1K: defaultPricePer1K,
	}
}

// Record prices one successful proxied call and appends it to the ledger,
// then adds the token count to the account's current rate window. Both writes
// are best-effort: a billing malfunction must never fail the user-facing
// response that already succeeded.
func (r *Recorder) Record(ctx context.Context, account *models.Account, model string, usage TokenUsage, endpoint, requestID string) {
	if r == nil || r.db == nil || account == nil {
		return
	}

	totalTokens := usage.TotalTokens
	if totalTokens == 0 {
		totalTokens = usage.PromptTokens + usage.CompletionTokens
	} else if usage.PromptTokens+usage.CompletionTokens != totalTokens {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"prompt":     usage.PromptTokens,
			"completion": usage.CompletionTokens,
			"total":      totalTokens,
		}).Warn("billing: reported token counts do not add up")
	}

	cost, detail := r.price(ctx, account, model, totalTokens, endpoint)

	detailJSON, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		detailJSON = nil
	}

	row := models.Usage{
		AccountID:        account.ID,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      totalTokens,
		Cost:             cost,
		RequestID:        requestID,
		Endpoint:         endpoint,
		Detail:           datatypes.JSON(detailJSON),
		RequestedAt:      time.Now().UTC(),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("request_id", requestID).Warn("billing: failed to persist usage record")
	}

	if r.limiter != nil {
		if errTokens := r.limiter.AddTokens(ctx, account, totalTokens); errTokens != nil {
			log.WithError(errTokens).WithField("request_id", requestID).Warn("billing: failed to meter tokens against rate window")
		}
	}
}

// price computes the cost for a call. A model without an active rate card is
// priced at the configured default with a multiplier of 1.0, regardless of
// the account tier.
func (r *Recorder) price(ctx context.Context, account *models.Account, model string, totalTokens int64, endpoint string) (float64, usageDetail) {
	// Runtime settings override the configured default when present.
	pricePer1K := settings.DefaultPricePer1K(r.defaultPricePer1K)
	multiplier := 1.0
	pricedAs := "default"

	if r.pricing != nil {
		pricing, found, errLookup := r.pricing.Lookup(ctx, model)
		if errLookup != nil {
			log.WithError(errLookup).WithField("model", model).Warn("billing: pricing lookup failed, using default price")
		} else if found {
			pricePer1K = pricing.PricePer1K
			multiplier = pricing.TierMultiplier(account.Tier)
			pricedAs = "rate_card"
		}
	}

	cost := RoundCost(float64(totalTokens) / 1000 * pricePer1K * multiplier)
	if cost < 0 {
		cost = 0
	}

	return cost, usageDetail{
		Endpoint:   endpoint,
		Tier:       account.Tier,
		PricePer1K: pricePer1K,
		Multiplier: multiplier,
		PricedAs:   pricedAs,
	}
}

// RoundCost rounds a cost to 6 decimal places.
func RoundCost(cost float64) float64 {
	return math.Round(cost*1e6) / 1e6
}

// ParseUsage extracts the usage triple from a decoded response body.
func ParseUsage(body map[string]json.RawMessage) (TokenUsage, bool) {
	raw, ok := body["usage"]
	if !ok || len(raw) == 0 {
		return TokenUsage{}, false
	}
	var usage TokenUsage
	if errUnmarshal := json.Unmarshal(raw, &usage); errUnmarshal != nil {
		return TokenUsage{}, false
	}
	return usage, true
}
