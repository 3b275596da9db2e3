package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// WorkItem: 一行输入及其在文件内的位置。
// 约束：Index 自 0 严格递增，每个物理行（含空行）占一个 Index。
type WorkItem struct {
	Index int64
	Line  []byte
}

// Outcome: 单行处理结果，按 Index 回到提交门闩。
// Skipped 表示空白行：不写出、不计错。
type Outcome struct {
	Index   int64
	Line    []byte
	Err     error
	Skipped bool
}
