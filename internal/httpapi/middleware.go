package httpapi

import (
	"net/http"
	"strconv"

	"github.com/openrouter-alt/gateway/internal/apierr"
	"github.com/openrouter-alt/gateway/internal/auth"
	"github.com/openrouter-alt/gateway/internal/logging"
	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/ratelimit"
	"github.com/openrouter-alt/gateway/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Gin context keys for in-flight request state.
const (
	contextKeyAccount  = "account"
	contextKeyDecision = "rateLimitDecision"
)

// CORSMiddleware answers preflight requests and stamps permissive CORS
// headers on every response.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Cookie, X-LA-Cookie, X-CF-Clearance")

		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware assigns each request an opaque identifier, echoed back
// in the X-Request-ID response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, errGenerate := security.GenerateRequestID()
		if errGenerate != nil {
			log.WithError(errGenerate).Error("request id generation failed")
			requestID = "req_unavailable"
		}
		logging.SetGinRequestID(c, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RecoveryMiddleware converts panics into formatted 500 responses so no
// stage failure reaches the transport layer unformatted.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(log.Fields{
			"panic":     recovered,
			"requestID": logging.GinRequestID(c),
			"path":      c.Request.URL.Path,
		}).Error("handler panic recovered")
		apierr.Write(c, apierr.Format(apierr.KindServer, "internal server error", nil))
	})
}

// AuthMiddleware resolves the credential pair to an active account and stores
// it on the context for downstream stages.
func AuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, errAuth := authenticator.Authenticate(c.Request.Context(), c.Request)
		switch errAuth {
		case nil:
			c.Set(contextKeyAccount, account)
			c.Next()
		case auth.ErrMissingCredentials, auth.ErrAccountNotFound:
			apierr.Write(c, apierr.Format(apierr.KindAuthentication, errAuth.Error(), nil))
		default:
			log.WithError(errAuth).Error("authentication store failure")
			apierr.Write(c, apierr.Format(apierr.KindServer, "authentication service error", nil))
		}
	}
}

// RateLimitMiddleware admits or rejects the request against the account's
// current window and stamps telemetry headers either way.
func RateLimitMiddleware(limiter *ratelimit.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := ContextAccount(c)
		if account == nil {
			apierr.Write(c, apierr.Format(apierr.KindServer, "rate limiter invoked without account", nil))
			return
		}

		decision, errReserve := limiter.ReserveRequest(c.Request.Context(), account)
		if errReserve != nil {
			log.WithError(errReserve).WithField("accountID", account.ID).Error("rate limit store failure")
			apierr.Write(c, apierr.Format(apierr.KindServer, "rate limit service error", nil))
			return
		}

		setRateLimitHeaders(c, decision)
		if !decision.Allowed {
			apierr.Write(c, apierr.RateLimit("rate limit exceeded, retry later", decision.RetryAfter))
			return
		}

		c.Set(contextKeyDecision, decision)
		c.Next()
	}
}

// ContextAccount returns the authenticated account stored by AuthMiddleware.
func ContextAccount(c *gin.Context) *models.Account {
	v, exists := c.Get(contextKeyAccount)
	if !exists {
		return nil
	}
	account, ok := v.(*models.Account)
	if !ok {
		return nil
	}
	return account
}

// setRateLimitHeaders stamps window telemetry on the response.
func setRateLimitHeaders(c *gin.Context, decision *ratelimit.Decision) {
	c.Header("X-RateLimit-Limit-Requests", formatInt(decision.RequestLimit))
	c.Header("X-RateLimit-Remaining-Requests", formatInt(decision.RequestRemaining))
	c.Header("X-RateLimit-Limit-Tokens", formatInt(decision.TokenLimit))
	c.Header("X-RateLimit-Remaining-Tokens", formatInt(decision.TokenRemaining))
	c.Header("X-RateLimit-Reset", formatInt(decision.ResetAt))
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
