package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// 统一的错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "LLM_INVALID_REQUEST"  // 参数/格式错误
	ErrUnauthorized    ErrorCode = "LLM_UNAUTHORIZED"     // 未授权或密钥失效
	ErrForbidden       ErrorCode = "LLM_FORBIDDEN"        // 权限或内容策略拒绝
	ErrRateLimited     ErrorCode = "LLM_RATE_LIMITED"     // 上游或本地限流
	ErrQuotaExceeded   ErrorCode = "LLM_QUOTA_EXCEEDED"   // 额度/配额用尽
	ErrModelOverloaded ErrorCode = "LLM_MODEL_OVERLOADED" // 模型过载
	ErrUpstreamTimeout ErrorCode = "LLM_UPSTREAM_TIMEOUT" // 上游超时
	ErrUpstreamError   ErrorCode = "LLM_UPSTREAM_ERROR"   // 上游 5xx/网络/解析错误
)

// Error 是传输层错误。Retryable 为 true 时客户端按退避策略重试。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Backend    string    `json:"backend,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// IsRetryable 判断错误是否应触发传输层重试。
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 *Error。
// 429 与 5xx 可重试；4xx 业务错误立即失败。
func MapHTTPError(status int, msg string, backend string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Code: ErrUnauthorized, Message: msg, HTTPStatus: status, Backend: backend}
	case http.StatusForbidden:
		return &Error{Code: ErrForbidden, Message: msg, HTTPStatus: status, Backend: backend}
	case http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Backend: backend}
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status, Backend: backend}
		}
		return &Error{Code: ErrInvalidRequest, Message: msg, HTTPStatus: status, Backend: backend}
	case http.StatusGatewayTimeout:
		return &Error{Code: ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Backend: backend}
	case 529: // 部分提供商使用的过载状态码
		return &Error{Code: ErrModelOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Backend: backend}
	default:
		return &Error{
			Code:       ErrUpstreamError,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  status >= 500,
			Backend:    backend,
		}
	}
}

// ReadErrorMessage 读取响应体中的错误消息。
// 尝试解析 JSON 错误响应，失败则回退到原始文本。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return string(data)
}
