package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// pricingCacheKeyPrefix namespaces pricing entries in redis.
const pricingCacheKeyPrefix = "gateway:pricing:"

// cachedPricing is one pricing cache entry. Misses are cached too, so a model
// without a rate card does not hit the database on every request.
type cachedPricing struct {
	Pricing *models.ModelPricing `json:"pricing"`
	Found   bool                 `json:"found"`
	expires time.Time
}

// PricingSource resolves model pricing through a short-TTL cache. The cache
// is a non-authoritative optimization; staleness within the TTL is accepted.
type PricingSource struct {
	db  *gorm.DB
	rdb *redis.Client
	ttl time.Duration

	mu    sync.RWMutex
	local map[string]cachedPricing
}

// NewPricingSource constructs a PricingSource. rdb may be nil, in which case
// only the in-process cache is used.
func NewPricingSource(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *PricingSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PricingSource{
		db:    db,
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]cachedPricing),
	}
}

// Lookup returns the active pricing row for a model, or (nil, false) when the
// model has no active rate card.
func (p *PricingSource) Lookup(ctx context.Context, model string) (*models.ModelPricing, bool, error) {
	if p == nil || p.db == nil {
		return nil, false, errors.New("billing: nil pricing source")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, false, nil
	}

	if entry, ok := p.fromLocal(model); ok {
		return entry.Pricing, entry.Found, nil
	}
	if entry, ok := p.fromRedis(ctx, model); ok {
		p.storeLocal(model, entry)
		return entry.Pricing, entry.Found, nil
	}

	var pricing models.ModelPricing
	errFind := p.db.WithContext(ctx).
		Where("model = ? AND active = ?", model, true).
		Take(&pricing).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("billing: lookup pricing: %w", errFind)
		}
		entry := cachedPricing{Found: false}
		p.storeLocal(model, entry)
		p.storeRedis(ctx, model, entry)
		return nil, false, nil
	}

	entry := cachedPricing{Pricing: &pricing, Found: true}
	p.storeLocal(model, entry)
	p.storeRedis(ctx, model, entry)
	return &pricing, true, nil
}

// Invalidate drops a model from both cache layers, e.g. after an admin
// pricing update.
func (p *PricingSource) Invalidate(ctx context.Context, model string) {
	if p == nil {
		return
	}
	model = strings.TrimSpace(model)

	p.mu.Lock()
	delete(p.local, model)
	p.mu.Unlock()

	if p.rdb != nil {
		if errDel := p.rdb.Del(ctx, pricingCacheKeyPrefix+model).Err(); errDel != nil {
			log.WithError(errDel).Debug("billing: pricing cache invalidation failed")
		}
	}
}

// fromLocal reads the in-process cache.
func (p *PricingSource) fromLocal(model string) (cachedPricing, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.local[model]
	if !ok || time.Now().After(entry.expires) {
		return cachedPricing{}, false
	}
	return entry, true
}

// storeLocal writes the in-process cache.
func (p *PricingSource) storeLocal(model string, entry cachedPricing) {
	entry.expires = time.Now().Add(p.ttl)
	p.mu.Lock()
	p.local[model] = entry
	p.mu.Unlock()
}

// fromRedis reads the shared cache; any redis failure is treated as a miss.
func (p *PricingSource) fromRedis(ctx context.Context, model string) (cachedPricing, bool) {
	if p.rdb == nil {
		return cachedPricing{}, false
	}
	raw, errGet := p.rdb.Get(ctx, pricingCacheKeyPrefix+model).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Debug("billing: pricing cache read failed")
		}
		return cachedPricing{}, false
	}
	var entry cachedPricing
	if errUnmarshal := json.Unmarshal(raw, &entry); errUnmarshal != nil {
		return cachedPricing{}, false
	}
	return entry, true
}

// storeRedis writes the shared cache, best-effort.
func (p *PricingSource) storeRedis(ctx context.Context, model string, entry cachedPricing) {
	if p.rdb == nil {
		return
	}
	raw, errMarshal := json.Marshal(entry)
	if errMarshal != nil {
		return
	}
	if errSet := p.rdb.Set(ctx, pricingCacheKeyPrefix+model, raw, p.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("billing: pricing cache write failed")
	}
}
