// Package apperror 定义授权核心对调用方暴露的错误类型。
//
// 策略拒绝（冷却中、等级不足、请求过期等）都是可预期、可由调用方处理的结果，
// 以 *Error 的形式返回；存储层超时或连接失败单独归为 KindStore，
// 便于边界层返回 5xx 而不与策略拒绝混淆。
package apperror

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindCoolingDown                 Kind = "cooling_down"
	KindNotRegisteredOrOffline      Kind = "not_registered_or_offline"
	KindEntitlementExpiredOrMissing Kind = "entitlement_expired_or_missing"
	KindInsufficientTier            Kind = "insufficient_tier"
	KindStaleRequest                Kind = "stale_request"
	KindRateLimited                 Kind = "rate_limited"
	KindUnknownFeature              Kind = "unknown_feature"
	KindQuotaExceeded               Kind = "quota_exceeded"
	KindNotFound                    Kind = "not_found"
	KindStore                       Kind = "store"
)

type Error struct {
	Kind Kind

	// CoolingDown
	RemainingMinutes int
	// InsufficientTier
	Current  string
	Required string
	// RateLimited
	RetryAfterSeconds int
	// QuotaExceeded
	Quota int

	Op  string
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCoolingDown:
		return fmt.Sprintf("设备刚被踢出，请 %d 分钟后再试", e.RemainingMinutes)
	case KindNotRegisteredOrOffline:
		return "设备未注册或已下线"
	case KindEntitlementExpiredOrMissing:
		return "未找到有效订阅"
	case KindInsufficientTier:
		return fmt.Sprintf("该功能需要 %s 版本或更高版本", e.Required)
	case KindStaleRequest:
		return "请求已过期，请重试"
	case KindRateLimited:
		return "操作过于频繁，请稍后再试"
	case KindUnknownFeature:
		return "未知的功能"
	case KindQuotaExceeded:
		return fmt.Sprintf("已达到设备数量上限 (%d)", e.Quota)
	case KindNotFound:
		if e.Op != "" {
			return e.Op + ": 记录不存在"
		}
		return "记录不存在"
	case KindStore:
		return fmt.Sprintf("%s: 存储操作失败: %v", e.Op, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout 报告存储错误是否由超时引起。
func (e *Error) Timeout() bool {
	return e.Kind == KindStore && errors.Is(e.Err, context.DeadlineExceeded)
}

func CoolingDown(remainingMinutes int) *Error {
	return &Error{Kind: KindCoolingDown, RemainingMinutes: remainingMinutes}
}

func NotRegisteredOrOffline() *Error {
	return &Error{Kind: KindNotRegisteredOrOffline}
}

func EntitlementExpiredOrMissing() *Error {
	return &Error{Kind: KindEntitlementExpiredOrMissing}
}

func InsufficientTier(current, required string) *Error {
	return &Error{Kind: KindInsufficientTier, Current: current, Required: required}
}

func StaleRequest() *Error {
	return &Error{Kind: KindStaleRequest}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, RetryAfterSeconds: retryAfterSeconds}
}

func UnknownFeature() *Error {
	return &Error{Kind: KindUnknownFeature}
}

func QuotaExceeded(quota int) *Error {
	return &Error{Kind: KindQuotaExceeded, Quota: quota}
}

func NotFound(op string) *Error {
	return &Error{Kind: KindNotFound, Op: op}
}

// Store 包装存储层错误。err 为 nil 时返回 nil。
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// KindOf 返回 err 链上第一个 *Error 的 Kind，不是 *Error 时返回空字符串。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
