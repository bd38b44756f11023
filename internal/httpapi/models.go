package httpapi

import (
	"net/http"

	"github.com/openrouter-alt/gateway/internal/auth"
	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/proxy"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// modelEntry is one element of the OpenAI-compatible model list.
type modelEntry struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Created    int64  `json:"created"`
	OwnedBy    string `json:"owned_by"`
	Permission []any  `json:"permission"`
}

// modelList is the OpenAI-compatible model listing envelope.
type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// catalogCreated is the fixed creation stamp used for catalog fallback
// entries so repeated calls stay byte-stable.
const catalogCreated = 1700000000

// ModelsHandler lists the models available through the gateway.
type ModelsHandler struct {
	forwarder *proxy.Client
	catalog   []string
}

// NewModelsHandler constructs a ModelsHandler with the static fallback
// catalog taken from configuration.
func NewModelsHandler(forwarder *proxy.Client, cfg config.ModelsConfig) *ModelsHandler {
	return &ModelsHandler{forwarder: forwarder, catalog: cfg.Catalog}
}

// List proxies the upstream model listing, falling back to the static
// catalog when the backend cannot be reached or answers with an error.
func (h *ModelsHandler) List(c *gin.Context) {
	creds := auth.ExtractCredentials(c.Request)
	result, errForward := h.forwarder.Forward(c.Request.Context(), proxy.Request{
		Method:      http.MethodGet,
		Path:        "/v1/models",
		Header:      c.Request.Header,
		LaCookie:    creds.LaCookie,
		CfClearance: creds.CfClearance,
	})
	if errForward == nil && result.Status == http.StatusOK {
		c.Data(http.StatusOK, "application/json", result.Body)
		return
	}

	if errForward != nil {
		log.WithError(errForward).Warn("model listing upstream unreachable, serving static catalog")
	} else {
		log.WithField("status", result.Status).Warn("model listing upstream failed, serving static catalog")
	}
	c.JSON(http.StatusOK, h.staticList())
}

// staticList renders the built-in catalog in the upstream shape.
func (h *ModelsHandler) staticList() modelList {
	entries := make([]modelEntry, 0, len(h.catalog))
	for _, id := range h.catalog {
		entries = append(entries, modelEntry{
			ID:         id,
			Object:     "model",
			Created:    catalogCreated,
			OwnedBy:    "system",
			Permission: []any{},
		})
	}
	return modelList{Object: "list", Data: entries}
}
