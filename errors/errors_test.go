package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_New_Retryable(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ErrCodeInspectionFailed, true},
		{ErrCodePublishFailed, true},
		{ErrCodeTimeout, true},
		{ErrCodeInvalidDeclaration, false},
		{ErrCodeInvalidConfig, false},
		{ErrCodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "msg", http.StatusInternalServerError)
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
		})
	}
}

func TestPublishFailed_CarriesKey(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := PublishFailed("redis", "beachhead:example.org:http", cause)
	if err.Code != ErrCodePublishFailed {
		t.Errorf("expected PUBLISH_FAILED, got %s", err.Code)
	}
	if err.Details["key"] != "beachhead:example.org:http" {
		t.Errorf("expected key detail, got %v", err.Details["key"])
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestInspectionFailed_Retryable(t *testing.T) {
	err := InspectionFailed("docker", stderrors.New("socket closed"))
	if !err.Retryable {
		t.Error("inspection failures should be retryable")
	}
	if err.HTTPStatus != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", err.HTTPStatus)
	}
}

func TestIsRetryable(t *testing.T) {
	wrapped := fmt.Errorf("tick: %w", PublishFailed("redis", "k", nil))
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", stderrors.New("boom"), true},
		{"retryable app error", wrapped, true},
		{"permanent app error", InvalidConfig("publish.ttl", "negative"), false},
		{"unknown provider", UnknownProvider("publisher", "etcd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", stderrors.New("boom"), false},
		{"connection failed", ConnectionFailed("redis").WithCause(stderrors.New("refused")), true},
		{"wrapped connection failed", fmt.Errorf("publish: %w", ConnectionFailed("consul")), true},
		{"service unavailable", New(ErrCodeServiceUnavailable, "no leader", http.StatusServiceUnavailable), true},
		{"timeout", New(ErrCodeTimeout, "slow", http.StatusGatewayTimeout), true},
		{"publish failed", PublishFailed("redis", "k", stderrors.New("ERR")), false},
		{"key conflict", KeyConflict("consul", "k", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyConflict_NotRetryable(t *testing.T) {
	err := KeyConflict("consul", "beachhead:example.org:http", stderrors.New("held"))
	if err.Retryable || IsRetryable(err) {
		t.Error("KeyConflict should not be retryable")
	}
	if err.HTTPStatus != http.StatusConflict || err.Details["key"] != "beachhead:example.org:http" {
		t.Errorf("err = %+v", err)
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InspectionFailed("kubernetes", nil))
	if !HasCode(err, ErrCodeInspectionFailed) {
		t.Error("expected INSPECTION_FAILED to be found through wrapping")
	}
	if HasCode(err, ErrCodePublishFailed) {
		t.Error("did not expect PUBLISH_FAILED")
	}
	if HasCode(stderrors.New("plain"), ErrCodeInternal) {
		t.Error("plain errors carry no code")
	}
}

func TestAppError_WithDetail_NilMap(t *testing.T) {
	err := &AppError{Code: ErrCodeInternal}
	err.WithDetail("tick_id", "abc")
	if err.Details["tick_id"] != "abc" {
		t.Errorf("expected tick_id=abc, got %v", err.Details["tick_id"])
	}
}

func TestAppError_Error_Format(t *testing.T) {
	err := New(ErrCodeInvalidConfig, "bad interval", http.StatusBadRequest)
	if got := err.Error(); got != "INVALID_CONFIG: bad interval" {
		t.Errorf("unexpected format %q", got)
	}
}

func TestAppError_ToResponse(t *testing.T) {
	resp := QueryFailed("consul", "beachhead", nil).ToResponse()
	if resp.Error.Code != ErrCodeQueryFailed {
		t.Errorf("expected QUERY_FAILED, got %s", resp.Error.Code)
	}
	if !resp.Error.Retryable {
		t.Error("expected retryable in response")
	}
	if resp.Error.Details["prefix"] != "beachhead" {
		t.Errorf("expected prefix detail, got %v", resp.Error.Details["prefix"])
	}
}
