package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/openrouter-alt/gateway/internal/apierr"
	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/logging"
	"github.com/openrouter-alt/gateway/internal/proxy"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxChatBodyBytes bounds the inbound request body.
const maxChatBodyBytes = 4 << 20

// ChatHandler proxies chat completions, buffered or streamed, and feeds the
// usage recorder on the way back out.
type ChatHandler struct {
	forwarder *proxy.Client
	recorder  *billing.Recorder
	cfg       *config.Config
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(forwarder *proxy.Client, recorder *billing.Recorder, cfg *config.Config) *ChatHandler {
	return &ChatHandler{forwarder: forwarder, recorder: recorder, cfg: cfg}
}

// Complete handles POST /v1/chat/completions.
func (h *ChatHandler) Complete(c *gin.Context) {
	if !strings.Contains(c.ContentType(), "application/json") {
		apierr.Write(c, apierr.Format(apierr.KindValidation, "Content-Type must be application/json", nil))
		return
	}

	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxChatBodyBytes))
	if errRead != nil {
		apierr.Write(c, apierr.Format(apierr.KindValidation, "unable to read request body", nil))
		return
	}

	var envelope map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(raw, &envelope); errUnmarshal != nil || envelope == nil {
		apierr.Write(c, apierr.Format(apierr.KindValidation, "request body must be a JSON object", nil))
		return
	}

	model, ok := decodeString(envelope["model"])
	if !ok || strings.TrimSpace(model) == "" {
		apierr.Write(c, apierr.Format(apierr.KindValidation, "Missing required field: model", nil))
		return
	}
	if !isNonEmptyArray(envelope["messages"]) {
		apierr.Write(c, apierr.Format(apierr.KindValidation, "Missing or invalid required field: messages", nil))
		return
	}

	resolved := h.cfg.ResolveModel(model)
	if resolved != model {
		rewritten, errMarshal := json.Marshal(resolved)
		if errMarshal == nil {
			envelope["model"] = rewritten
			if patched, errBody := json.Marshal(envelope); errBody == nil {
				raw = patched
			}
		}
	}

	account := ContextAccount(c)
	if account == nil {
		apierr.Write(c, apierr.Format(apierr.KindServer, "chat handler invoked without account", nil))
		return
	}

	request := proxy.Request{
		Method:      http.MethodPost,
		Path:        "/v1/chat/completions",
		Body:        raw,
		Header:      c.Request.Header,
		LaCookie:    account.LaCookie,
		CfClearance: account.CfClearance,
		InjectUsage: true,
	}

	if decodeBool(envelope["stream"]) {
		h.streamCompletion(c, request)
		return
	}
	h.bufferedCompletion(c, request, resolved)
}

// bufferedCompletion forwards the call, records usage on success, and relays
// the upstream body.
func (h *ChatHandler) bufferedCompletion(c *gin.Context, request proxy.Request, model string) {
	result, errForward := h.forwarder.Forward(c.Request.Context(), request)
	if errForward != nil {
		apierr.Write(c, apierr.Format(apierr.KindServer, "upstream request failed", nil))
		return
	}

	if result.Status < http.StatusOK || result.Status >= http.StatusMultipleChoices {
		if result.Status >= http.StatusInternalServerError {
			log.WithFields(log.Fields{
				"status":    result.Status,
				"requestID": logging.GinRequestID(c),
				"body":      string(result.Body),
			}).Error("upstream chat completion failed")
		}
		apierr.Write(c, apierr.BackendError(result.Status, result.Body))
		return
	}

	body := defaultObject(result.Body, "chat.completion")
	c.Data(http.StatusOK, "application/json", body)

	h.recordUsage(c, body, model)
}

// streamCompletion relays the upstream event stream chunk by chunk.
func (h *ChatHandler) streamCompletion(c *gin.Context, request proxy.Request) {
	result, errStream := h.forwarder.ForwardStreaming(c.Request.Context(), request, c.Writer.Header(), c.Writer)
	if errStream != nil {
		apierr.Write(c, apierr.Format(apierr.KindServer, "upstream request failed", nil))
		return
	}
	if result.Status < http.StatusOK || result.Status >= http.StatusMultipleChoices {
		apierr.Write(c, apierr.BackendError(result.Status, result.Body))
		return
	}
	// Body already relayed and flushed; nothing further to write.
}

// recordUsage extracts the usage triple and hands it to the recorder.
// Recorder failures never surface here.
func (h *ChatHandler) recordUsage(c *gin.Context, body []byte, model string) {
	var envelope map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(body, &envelope); errUnmarshal != nil {
		return
	}
	usage, ok := billing.ParseUsage(envelope)
	if !ok {
		return
	}
	account := ContextAccount(c)
	if account == nil {
		return
	}
	h.recorder.Record(c.Request.Context(), account, model, usage, "/v1/chat/completions", logging.GinRequestID(c))
}

// defaultObject sets the top-level object field when the upstream omitted it.
func defaultObject(body []byte, objectValue string) []byte {
	var envelope map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(body, &envelope); errUnmarshal != nil || envelope == nil {
		return body
	}
	if raw, ok := envelope["object"]; ok && len(raw) > 0 && string(raw) != "null" {
		return body
	}
	encoded, errMarshal := json.Marshal(objectValue)
	if errMarshal != nil {
		return body
	}
	envelope["object"] = encoded
	patched, errMarshal := json.Marshal(envelope)
	if errMarshal != nil {
		return body
	}
	return patched
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var value string
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return "", false
	}
	return value, true
}

func decodeBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var value bool
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return false
	}
	return value
}

func isNonEmptyArray(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var value []json.RawMessage
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return false
	}
	return len(value) > 0
}
