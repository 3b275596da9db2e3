package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"jsonlnorm/internal/codec"
	"jsonlnorm/pkg/contract"
)

// Stdin 为标准输入的保留路径。
const Stdin = "-"

// DefaultExtensions 为目录扫描时收录的文件后缀。
var DefaultExtensions = []string{".jsonl", ".jsonl.gz", ".jsonl.zst", ".jsonl.zstd"}

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，大小写不敏感）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录扫描收录的后缀；空则使用 DefaultExtensions。
	// 显式列出的文件不受此限制。
	Extensions []string `json:"extensions"`
	// Decompress: 按扩展名透明解压（默认 true）。
	Decompress *bool `json:"decompress"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       []string
	decompress bool
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	ex := make(map[string]struct{})
	exts := DefaultExtensions
	decompress := true
	if opts != nil {
		for _, name := range opts.ExcludeDirNames {
			if name == "" {
				continue
			}
			ex[strings.ToLower(name)] = struct{}{}
		}
		if len(opts.Extensions) > 0 {
			exts = nil
			for _, e := range opts.Extensions {
				if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
					exts = append(exts, e)
				}
			}
		}
		if opts.Decompress != nil {
			decompress = *opts.Decompress
		}
	}
	return &FileSystem{bufSize: b, excludeDir: ex, exts: exts, decompress: decompress}
}

// Open 打开单个输入；"-" 为 STDIN（Close 不关闭进程 stdin）。
// 目录等非常规文件返回 ErrNotRegular；命名管道放行。
func (r *FileSystem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == Stdin {
		return r.wrap(io.NopCloser(os.Stdin), codec.None)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !streamable(st.Mode()) {
		_ = f.Close()
		return nil, contract.ErrNotRegular
	}
	kind := codec.None
	if r.decompress {
		kind = codec.FromPath(path)
	}
	return r.wrap(f, kind)
}

func (r *FileSystem) wrap(rc io.ReadCloser, kind codec.Kind) (io.ReadCloser, error) {
	br := newBufferedCloser(rc, r.bufSize)
	if kind == codec.None {
		return br, nil
	}
	dec, err := codec.NewReader(br, kind)
	if err != nil {
		_ = br.Close()
		return nil, fmt.Errorf("%s header: %w", kind, err)
	}
	return &stackCloser{Reader: dec, closers: []io.Closer{dec, br}}, nil
}

// Expand 将 roots 展开为输入文件列表，顺序稳定：
// 按 roots 顺序；目录内先子目录后文件，均按字典序。
// 显式文件原样收录；目录内只收录匹配后缀的常规文件；目录符号链接不跟随。
// "-" 只能单独出现。
func (r *FileSystem) Expand(ctx context.Context, roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, contract.Configf("no input paths")
	}
	if len(roots) > 1 {
		for _, s := range roots {
			if s == Stdin {
				return nil, contract.Configf("stdin '-' cannot be mixed with other roots")
			}
		}
	}
	if roots[0] == Stdin {
		return []string{Stdin}, nil
	}
	var out []string
	seen := make(map[contract.FileID]struct{})
	add := func(p string) {
		id := contract.NormalizeFileID(p)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, p)
	}
	for _, root := range roots {
		if err := r.expandOne(ctx, root, add); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// streamable 为显式输入的统一规则：常规文件或命名管道。
func streamable(m os.FileMode) bool {
	return m.IsRegular() || m&os.ModeNamedPipe != 0
}

// Check 预检显式输入：每个路径必须存在且为常规文件或命名管道（跟随符号链接）。
// 在任何并发处理之前调用；返回首个失败的 FileError。
func Check(paths []string) error {
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return &contract.FileError{Path: p, Op: "stat", Err: err}
		}
		if !streamable(st.Mode()) {
			return &contract.FileError{Path: p, Op: "stat", Err: contract.ErrNotRegular}
		}
	}
	return nil
}

func (r *FileSystem) expandOne(ctx context.Context, root string, add func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return &contract.FileError{Path: root, Op: "stat", Err: err}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return &contract.FileError{Path: root, Op: "stat", Err: err}
		}
		if !streamable(t.Mode()) {
			// 显式给出的目录链接同样不跟随
			return &contract.FileError{Path: root, Op: "stat", Err: contract.ErrNotRegular}
		}
		add(root)
		return nil
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, add)
	}
	if !streamable(info.Mode()) {
		return &contract.FileError{Path: root, Op: "stat", Err: contract.ErrNotRegular}
	}
	add(root)
	return nil
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, add func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &contract.FileError{Path: dir, Op: "readdir", Err: err}
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), add); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接）
	for _, e := range entries {
		if e.IsDir() || !r.matchExt(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue // 悬空链接
				}
				return &contract.FileError{Path: p, Op: "stat", Err: err}
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		add(p)
	}
	return nil
}

func (r *FileSystem) matchExt(name string) bool {
	ln := strings.ToLower(name)
	for _, e := range r.exts {
		if strings.HasSuffix(ln, e) {
			return true
		}
	}
	return false
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

// stackCloser 依次关闭解压器与底层文件，返回首个错误。
type stackCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
