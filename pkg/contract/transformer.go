package contract

// Transformer: 单行记录变换（纯函数，同步，可被多个 worker 并发调用）。
// 返回的字节为紧凑 JSON，不含换行；错误为行级分类（ErrMalformed 等）。
type Transformer interface {
	Transform(line []byte, field string) ([]byte, error)
}
