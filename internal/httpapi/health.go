package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Version is the reported gateway version.
const Version = "1.0.0"

// memoryWarnBytes is the heap size above which the memory check degrades.
const memoryWarnBytes = 1 << 30

// HealthHandler serves the unauthenticated health endpoint.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health reports overall status plus per-dependency checks. Any check in
// error degrades the response to 503.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{
		"database": h.checkDatabase(c),
		"memory":   checkMemory(),
	}

	status := "healthy"
	code := http.StatusOK
	for _, result := range checks {
		if result == "error" {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"checks":    checks,
	})
}

func (h *HealthHandler) checkDatabase(c *gin.Context) string {
	sqlDB, errDB := h.db.DB()
	if errDB != nil {
		return "error"
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		return "error"
	}
	return "ok"
}

func checkMemory() string {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc > memoryWarnBytes {
		return "warn"
	}
	return "ok"
}
