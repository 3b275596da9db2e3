package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识（输出路径）。与 FileID 复用同一表示。
type ArtifactID = FileID

// Writer: 将结果以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入（O(1) 额外内存），按字节透传（压缩除外），不读取/修改业务内容；
//  3. r 以错误结束或 ctx 取消时，不得留下部分写出的目标；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
