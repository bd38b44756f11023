// Package apierr defines the gateway's error taxonomy and renders every
// error response in the OpenAI-compatible {"error": {...}} shape.
package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Kind identifies an entry in the error taxonomy.
type Kind string

// Recognized error kinds.
const (
	KindAuthentication   Kind = "authentication_error"
	KindForbidden        Kind = "forbidden"
	KindRateLimit        Kind = "rate_limit_error"
	KindValidation       Kind = "validation_error"
	KindBilling          Kind = "billing_error"
	KindNotFound         Kind = "not_found_error"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindTimeout          Kind = "timeout_error"
	KindServer           Kind = "server_error"
)

// Detail is the inner error object of a formatted response body.
type Detail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Body is the response body shared by all formatted errors.
type Body struct {
	Error Detail `json:"error"`
}

// Formatted is a fully rendered error response. When RawBody is set the
// response emits those bytes verbatim instead of re-marshalling Body.
type Formatted struct {
	Status  int
	Headers map[string]string
	Body    Body
	RawBody []byte
}

// taxonomyEntry fixes the (status, type, code) triple for one kind.
type taxonomyEntry struct {
	status  int
	errType string
	code    string
}

// kindTable maps each kind to its fixed status, type, and code.
var kindTable = map[Kind]taxonomyEntry{
	KindAuthentication:   {http.StatusUnauthorized, "authentication_error", "invalid_authorization"},
	KindForbidden:        {http.StatusForbidden, "authentication_error", "forbidden"},
	KindRateLimit:        {http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
	KindValidation:       {http.StatusBadRequest, "invalid_request_error", "invalid_request"},
	KindBilling:          {http.StatusPaymentRequired, "billing_error", "payment_required"},
	KindNotFound:         {http.StatusNotFound, "not_found_error", "not_found"},
	KindMethodNotAllowed: {http.StatusMethodNotAllowed, "invalid_request_error", "method_not_allowed"},
	KindTimeout:          {http.StatusRequestTimeout, "timeout_error", "request_timeout"},
	KindServer:           {http.StatusInternalServerError, "server_error", "internal_error"},
}

// statusTable maps upstream HTTP statuses to synthesized type/code pairs.
var statusTable = map[int]taxonomyEntry{
	http.StatusBadRequest:          {http.StatusBadRequest, "invalid_request_error", "invalid_request"},
	http.StatusUnauthorized:        {http.StatusUnauthorized, "authentication_error", "invalid_authorization"},
	http.StatusPaymentRequired:     {http.StatusPaymentRequired, "billing_error", "payment_required"},
	http.StatusForbidden:           {http.StatusForbidden, "authentication_error", "forbidden"},
	http.StatusNotFound:            {http.StatusNotFound, "not_found_error", "not_found"},
	http.StatusMethodNotAllowed:    {http.StatusMethodNotAllowed, "invalid_request_error", "method_not_allowed"},
	http.StatusRequestTimeout:      {http.StatusRequestTimeout, "timeout_error", "request_timeout"},
	http.StatusTooManyRequests:     {http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
	http.StatusInternalServerError: {http.StatusInternalServerError, "server_error", "internal_error"},
	http.StatusBadGateway:          {http.StatusBadGateway, "server_error", "bad_gateway"},
	http.StatusServiceUnavailable:  {http.StatusServiceUnavailable, "server_error", "service_unavailable"},
	http.StatusGatewayTimeout:      {http.StatusGatewayTimeout, "server_error", "gateway_timeout"},
}

// Format renders an error response for the given kind. Every call is logged;
// logging never fails the response.
func Format(kind Kind, message string, details any) Formatted {
	entry, ok := kindTable[kind]
	if !ok {
		entry = kindTable[KindServer]
	}

	logFormatted(entry, message)

	return Formatted{
		Status:  entry.status,
		Headers: map[string]string{},
		Body: Body{Error: Detail{
			Message: message,
			Type:    entry.errType,
			Code:    entry.code,
			Details: details,
		}},
	}
}

// RateLimit renders a 429 with the mandatory Retry-After header.
func RateLimit(message string, retryAfterSeconds int64) Formatted {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	formatted := Format(KindRateLimit, message, nil)
	formatted.Headers["Retry-After"] = strconv.FormatInt(retryAfterSeconds, 10)
	return formatted
}

// MethodNotAllowed renders a 405 with the mandatory Allow header.
func MethodNotAllowed(message string, allowed []string) Formatted {
	formatted := Format(KindMethodNotAllowed, message, nil)
	formatted.Headers["Allow"] = strings.Join(allowed, ", ")
	return formatted
}

// BackendError translates an upstream failure body. Bodies already carrying
// an error object pass through byte for byte, so upstream fields outside the
// taxonomy (such as "param") survive; anything else is synthesized from the
// status alone so backend internals never leak to the caller.
func BackendError(status int, rawBody []byte) Formatted {
	if body, ok := decodeErrorShape(rawBody); ok {
		logFormatted(taxonomyEntry{status: status, errType: body.Error.Type, code: body.Error.Code}, body.Error.Message)
		return Formatted{
			Status:  status,
			Headers: map[string]string{},
			Body:    body,
			RawBody: append([]byte(nil), rawBody...),
		}
	}

	entry, ok := statusTable[status]
	if !ok {
		entry = taxonomyEntry{status: status, errType: "server_error", code: "internal_error"}
		if status < http.StatusInternalServerError {
			entry.errType = "invalid_request_error"
			entry.code = "invalid_request"
		}
	}

	message := strings.TrimSpace(http.StatusText(status))
	if message == "" {
		message = "upstream request failed"
	}

	logFormatted(entry, message)

	return Formatted{
		Status:  status,
		Headers: map[string]string{},
		Body: Body{Error: Detail{
			Message: message,
			Type:    entry.errType,
			Code:    entry.code,
		}},
	}
}

// Write sets any taxonomy headers and writes the formatted body, aborting the
// gin handler chain.
func Write(c *gin.Context, formatted Formatted) {
	if c == nil {
		return
	}
	for key, value := range formatted.Headers {
		c.Header(key, value)
	}
	if len(formatted.RawBody) > 0 {
		c.Data(formatted.Status, "application/json", formatted.RawBody)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(formatted.Status, formatted.Body)
}

// decodeErrorShape reports whether the raw body already matches the expected
// {"error": {...}} shape.
func decodeErrorShape(rawBody []byte) (Body, bool) {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return Body{}, false
	}

	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &probe); errUnmarshal != nil {
		return Body{}, false
	}
	if len(probe.Error) == 0 || string(probe.Error) == "null" {
		return Body{}, false
	}

	var body Body
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &body); errUnmarshal != nil {
		return Body{}, false
	}
	return body, true
}

// logFormatted records the taxonomy side effect. 5xx responses log at error
// level, the rest at warn.
func logFormatted(entry taxonomyEntry, message string) {
	fields := log.Fields{
		"type":   entry.errType,
		"code":   entry.code,
		"status": entry.status,
	}
	if entry.status >= http.StatusInternalServerError {
		log.WithFields(fields).Error(message)
		return
	}
	log.WithFields(fields).Warn(message)
}
