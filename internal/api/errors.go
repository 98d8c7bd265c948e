package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/apperr"
)

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Entity  string              `json:"entity,omitempty"`
	Field   string              `json:"field,omitempty"`
	Value   string              `json:"value,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as a structured JSON error
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	var e *apperr.Error
	if errors.As(err, &e) {
		body := errorBody{
			Code:    string(e.Kind),
			Message: e.Error(),
			Entity:  e.Entity,
			Field:   e.Field,
			Value:   e.Value,
			Fields:  e.Fields,
		}
		if e.Kind == apperr.KindUnavailable {
			log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("Storage unavailable")
			body.Message = "storage unavailable, retry later"
			body.Field = ""
		}
		c.JSON(statusFor(e.Kind), gin.H{"error": body})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorBody{
			Code: string(apperr.KindUnavailable), Message: "request cancelled or timed out",
		}})
		return
	}

	log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("Unhandled error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{Code: "internal", Message: "Internal server error"}})
}

// badRequest reports a malformed request that never reached the store
func badRequest(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "bad_request", Message: message, Field: field}})
}

// int64Param parses a positive integer path parameter
func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v < 1 {
		badRequest(c, name, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

// intQuery parses an optional integer query parameter
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name, name+" must be an integer")
		return 0, false
	}
	return v, true
}

// boolQuery parses an optional boolean query parameter
func boolQuery(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, name, name+" must be a boolean")
		return false, false
	}
	return v, true
}

// int64PtrQuery parses an optional int64 filter
func int64PtrQuery(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, name, name+" must be an integer")
		return nil, false
	}
	return &v, true
}

// timeQuery parses an optional RFC 3339 timestamp
func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, name, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	v = v.UTC()
	return &v, true
}
