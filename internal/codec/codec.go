// Package codec 按文件扩展名选择透明压缩：.gz 走 gzip，.zst/.zstd 走 zstd，其余原样。
package codec

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Kind 表示压缩格式。
type Kind int

const (
	None Kind = iota
	Gzip
	Zstd
)

func (k Kind) String() string {
	switch k {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// FromPath 依据扩展名（大小写不敏感）判定格式。
func FromPath(p string) Kind {
	lp := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lp, ".gz"):
		return Gzip
	case strings.HasSuffix(lp, ".zst"), strings.HasSuffix(lp, ".zstd"):
		return Zstd
	default:
		return None
	}
}

// NewReader 在 r 上叠加解压；返回的 Close 只释放解压器，不关闭 r。
func NewReader(r io.Reader, k Kind) (io.ReadCloser, error) {
	switch k {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// NewWriter 在 w 上叠加压缩；Close 刷出尾部但不关闭 w。
func NewWriter(w io.Writer, k Kind) (io.WriteCloser, error) {
	switch k {
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nopWriteCloser{w}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
