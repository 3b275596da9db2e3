package diag

import (
	"context"
	"errors"
	"io/fs"

	"jsonlnorm/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeRecord    Code = "record"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrConfig) {
		return CodeConfig
	}
	if contract.IsRecordError(err) {
		return CodeRecord
	}
	if errors.Is(err, contract.ErrInvariantViolation) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) || errors.Is(err, contract.ErrNotRegular) {
		return CodeIO
	}
	var ferr *contract.FileError
	if errors.As(err, &ferr) {
		return CodeIO
	}
	return CodeUnknown
}
