package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"jsonlnorm/pkg/contract"
)

// BenchmarkWrite 在不同输入尺寸与压缩格式下测量写入性能。
func BenchmarkWrite(b *testing.B) {
	line := []byte("{\"id\":1,\"text\":\"hello world\"}\n")
	for _, sz := range []int{1024, 1024 * 1024} {
		for _, name := range []string{"out.jsonl", "out.jsonl.gz", "out.jsonl.zst"} {
			b.Run(fmt.Sprintf("size=%d/%s", sz, name), func(b *testing.B) {
				data := bytes.Repeat(line, sz/len(line)+1)
				w, err := New(&Options{OutputDir: b.TempDir()})
				if err != nil {
					b.Fatalf("创建 Writer 失败: %v", err)
				}
				id := contract.ArtifactID(name)
				ctx := context.Background()
				b.SetBytes(int64(len(data)))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
