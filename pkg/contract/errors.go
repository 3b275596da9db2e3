package contract

import (
	"errors"
	"fmt"
)

// 配置/记录/路径相关最小错误分类。
var (
	// ErrConfig: 配置非法（workers<1、字段名为空、输出路径冲突、未知组件等），在任何 I/O 之前报告。
	ErrConfig = errors.New("invalid configuration")
	// ErrMalformed: 单行不是合法 JSON。
	ErrMalformed = errors.New("malformed json")
	// ErrNotAnObject: 单行是合法 JSON，但顶层不是对象。
	ErrNotAnObject = errors.New("json value is not an object")
	// ErrFieldMissing: 严格模式下记录缺少文本字段。
	ErrFieldMissing = errors.New("text field missing")
	// ErrFieldNotString: 严格模式下文本字段不是字符串。
	ErrFieldNotString = errors.New("text field is not a string")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrNotRegular: 预检时输入存在但不是常规文件。
	ErrNotRegular = errors.New("not a regular file")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)

// RecordError 单行级错误：只影响该行，不中断文件。
type RecordError struct {
	Index int64 // 行号（0 起）
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index+1, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsRecordError 判断 err 是否属于行级错误分类。
func IsRecordError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return true
	}
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrNotAnObject) ||
		errors.Is(err, ErrFieldMissing) ||
		errors.Is(err, ErrFieldNotString)
}

// FileError 文件级 I/O 错误：终止该文件，不影响同一作业的其他文件。
type FileError struct {
	Path string
	Op   string // open|read|write|create
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Configf 构造带 ErrConfig 分类的错误。
func Configf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, a...))
}
