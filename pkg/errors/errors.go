// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package errors defines the coded error taxonomy used across the
// retrieval pipeline. Every pipeline stage classifies its own failures
// into one of these codes before returning; upper layers only aggregate
// and, at the HTTP boundary, map codes to transport status.
package errors

import (
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	// Caller-fixable input problems (4xx class).
	CodeInputInvalid Code = "input.invalid"

	// Admission control.
	CodeRateLimited  Code = "ratelimit.exceeded"
	CodeBackpressure Code = "pipeline.backpressure"

	// External dependency failures, by stage.
	CodeEmbedUpstreamFailure    Code = "embed.upstream.failure"
	CodeIndexUpstreamFailure    Code = "index.upstream.failure"
	CodeGenerateUpstreamFailure Code = "generate.upstream.failure"

	// Dependency answered, but with something we could not parse.
	CodeEmbedMalformedResponse    Code = "embed.response.malformed"
	CodeGenerateMalformedResponse Code = "generate.response.malformed"

	CodeDocumentNotFound Code = "index.document.not_found"

	CodeConfigInvalid Code = "config.validate.invalid_value"

	// Unexpected/programming errors.
	CodeInternal Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// retryAfterKey carries the suggested client backoff for rate-limited errors.
const retryAfterKey = "retry_after_seconds"

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// RateLimited builds a CodeRateLimited error carrying the retry-after hint.
func RateLimited(route string, retryAfterSeconds float64) error {
	return oops.Code(CodeRateLimited).
		With("route", route, retryAfterKey, retryAfterSeconds).
		Errorf("rate limit exceeded for route %s", route)
}

// CodeOf extracts the Code from an error chain, or "" when uncoded.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached to an error, if any.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsInputInvalid(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_value"
}

func IsRateLimited(err error) bool {
	return HasCode(err, CodeRateLimited)
}

func IsBackpressure(err error) bool {
	return HasCode(err, CodeBackpressure)
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func IsMalformedResponse(err error) bool {
	return reason(CodeOf(err)) == "malformed"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

// RetryAfterSeconds returns the retry-after hint attached to a rate-limited
// error, rounded up to whole seconds with a minimum of 1, and false when the
// error carries none.
func RetryAfterSeconds(err error) (int, bool) {
	fields := FieldsOf(err)
	if fields == nil {
		return 0, false
	}
	raw, ok := fields[retryAfterKey]
	if !ok {
		return 0, false
	}
	secs, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	if secs < 1 {
		return 1, true
	}
	return int(math.Ceil(secs)), true
}

// HTTPStatus maps an error's taxonomy kind to a transport status code.
// Only the server boundary calls this; pipeline code never inspects it.
func HTTPStatus(err error) int {
	switch {
	case IsInputInvalid(err):
		return http.StatusUnprocessableEntity
	case IsNotFound(err):
		return http.StatusNotFound
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsUpstreamFailure(err), IsBackpressure(err):
		return http.StatusServiceUnavailable
	default:
		// Malformed upstream payloads and programming errors both surface
		// as a generic internal failure; detail stays in the logs.
		return http.StatusInternalServerError
	}
}

// UserMessage returns the stable, documented message for an error's taxonomy
// kind. Upstream provider error bodies are never exposed verbatim.
func UserMessage(err error) string {
	switch {
	case IsInputInvalid(err):
		return "invalid request"
	case IsNotFound(err):
		return "not found"
	case IsRateLimited(err):
		return "rate limit exceeded"
	case IsBackpressure(err):
		return "server is busy, retry shortly"
	case IsUpstreamFailure(err):
		return "upstream dependency unavailable"
	default:
		return "internal error"
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeInternal).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
