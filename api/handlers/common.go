package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/Lynn-1221/Agents/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// DefaultMaxBodyBytes 请求体上限
const DefaultMaxBodyBytes = 1 << 20

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteData(w, http.StatusOK, data)
}

// WriteData 以指定状态码写入成功响应
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 把任意错误写成统一错误响应。types.Error 按错误码映射状态码，
// 存储的 ErrNotFound 映射为 404，其余为 500。
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	apiErr := toAPIError(err)
	status := apiErr.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(apiErr.Code)
	}

	if logger != nil {
		level := zap.WarnLevel
		if status >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		logger.Check(level, "API error").Write(
			zap.String("code", string(apiErr.Code)),
			zap.String("message", apiErr.Message),
			zap.Int("status", status),
			zap.Error(apiErr.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(apiErr.Code),
			Message:   apiErr.Message,
			Retryable: apiErr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

func toAPIError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return types.NewError(types.ErrNotFound, "not found").WithCause(err)
	}
	if errors.Is(err, persistence.ErrInvalidInput) {
		return types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
	}
	return types.NewError(types.ErrInternalError, "internal error").WithCause(err)
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrInvalidGraph, types.ErrToolValidation:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamError, types.ErrCollaboratorUnavailable, types.ErrMalformedReply:
		return http.StatusBadGateway
	// 会话已经以这些结局停止，请求与其状态冲突
	case types.ErrCancelled, types.ErrProtocolDeadlock, types.ErrAmbiguousTransition, types.ErrRoundLimitExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求解码
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（严格模式，限制大小）。失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body: "+err.Error()).WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = apiErr.WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 让 http.ResponseController 和 websocket 握手拿到底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
