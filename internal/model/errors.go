package model

import "fmt"

// ValidationError 表示输入或配置校验失败（空消息、缺少 API Key 等）。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthError 表示凭证无效（上游返回 401）。
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NotFoundError 表示目标不存在：未知的 Bot 名称，或删除时记录已不存在。
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// RateLimitError 表示请求过于频繁（上游返回 429）。
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// InsufficientCreditError 表示积分不足（上游返回 402）。
type InsufficientCreditError struct {
	Message string
}

func (e *InsufficientCreditError) Error() string {
	return e.Message
}

// TimeoutError 表示请求超过 60 秒截止时间或底层传输报告超时。
// Message 中会根据是否配置了代理给出不同的提示。
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	return e.Message
}

// TransportError 是传输层的兜底错误，保留上游的消息文本与 HTTP 状态码。
type TransportError struct {
	Message    string
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// StorageError 表示本地存储操作失败。
type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
