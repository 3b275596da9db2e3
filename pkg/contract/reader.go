package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象。
// 约束：
// 1) 按路径打开单个输入，返回解码后（如解压）的字节流；
// 2) 不做 JSON 解析；
// 3) 不在内部起并发。
type Reader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Expander: 可选能力，将用户给出的根（文件/目录）展开为稳定有序的输入路径。
type Expander interface {
	Expand(ctx context.Context, roots []string) ([]string, error)
}
