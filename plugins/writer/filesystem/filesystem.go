package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jsonlnorm/internal/codec"
	"jsonlnorm/pkg/contract"
)

// Stdout 为标准输出的保留产物 ID。
const Stdout = "-"

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 可选输出根目录。为空时 id 即目标路径；
	// 非空时 id 必须为相对路径且不得逃逸出根目录。
	OutputDir string `json:"output_dir,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅在 OutputDir 非空时生效，只保留文件名。默认 false。
	Flat *bool `json:"flat,omitempty"`
	// Compress: 按目标扩展名（.gz/.zst）压缩输出。默认 true。
	Compress *bool `json:"compress,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root     string
	atomic   bool
	flat     bool
	compress bool
	permF    os.FileMode
	permD    os.FileMode
	bufSize  int
	stdout   io.Writer
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	boolOr := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}
	return &FS{
		root:     strings.TrimSpace(opts.OutputDir),
		atomic:   boolOr(opts.Atomic, true),
		flat:     boolOr(opts.Flat, false),
		compress: boolOr(opts.Compress, true),
		permF:    pf,
		permD:    pd,
		bufSize:  bsz,
		stdout:   os.Stdout,
	}, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入 id 映射的目标路径。
// 原子模式下 r 出错时目标保持原状，不留下临时文件。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if string(id) == Stdout && w.root == "" {
		return w.copyTo(ctx, w.stdout, r, codec.None)
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	kind := codec.None
	if w.compress {
		kind = codec.FromPath(dest)
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r, kind)
	}
	return w.writeOverwrite(ctx, dest, r, kind)
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(strings.TrimSpace(string(id)))
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if w.root == "" {
		return rel, nil
	}
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// copyTo: r → 压缩（可选）→ 缓冲 → dst。
func (w *FS) copyTo(ctx context.Context, dst io.Writer, r io.Reader, kind codec.Kind) error {
	bw := bufio.NewWriterSize(dst, w.bufSize)
	cw, err := codec.NewWriter(bw, kind)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, readerWithCtx(ctx, r)); err != nil {
		_ = cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader, kind codec.Kind) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	if err := w.copyTo(ctx, f, r, kind); err != nil {
		// 失败不留半截文件
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader, kind codec.Kind) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := w.copyTo(ctx, tmp, r, kind); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
