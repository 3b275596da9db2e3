package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"jsonlnorm/pkg/contract"
)

func write(t *testing.T, p string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func readAll(t *testing.T, r *FileSystem, p string) string {
	t.Helper()
	rc, err := r.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(b)
}

const sample = "{\"text\":\"Hello\"}\n{\"text\":\"World\"}\n"

func TestOpenPlain(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.jsonl")
	write(t, p, []byte(sample))
	if got := readAll(t, New(nil), p); got != sample {
		t.Fatalf("got %q", got)
	}
}

func TestOpenCompressed(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(sample))
	zw.Close()
	write(t, filepath.Join(dir, "a.jsonl.gz"), gz.Bytes())

	var zs bytes.Buffer
	enc, _ := zstd.NewWriter(&zs)
	enc.Write([]byte(sample))
	enc.Close()
	write(t, filepath.Join(dir, "b.jsonl.zst"), zs.Bytes())

	r := New(nil)
	for _, name := range []string{"a.jsonl.gz", "b.jsonl.zst"} {
		if got := readAll(t, r, filepath.Join(dir, name)); got != sample {
			t.Fatalf("%s: got %q", name, got)
		}
	}

	// 关闭解压后按原始字节读取
	off := false
	raw := readAll(t, New(&Options{Decompress: &off}), filepath.Join(dir, "a.jsonl.gz"))
	if raw != gz.String() {
		t.Fatalf("decompress=false should return raw bytes")
	}
}

func TestOpenCorruptGzip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.jsonl.gz")
	write(t, p, []byte("plain text"))
	if _, err := New(nil).Open(context.Background(), p); err == nil {
		t.Fatalf("expected header error")
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	r := New(nil)
	if _, err := r.Open(context.Background(), filepath.Join(dir, "missing.jsonl")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}
	if _, err := r.Open(context.Background(), dir); !errors.Is(err, contract.ErrNotRegular) {
		t.Fatalf("want ErrNotRegular, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Open(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("want Canceled, got %v", err)
	}
}

func TestExpandDirectoryOrder(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "b.jsonl"), nil)
	write(t, filepath.Join(root, "a.jsonl.gz"), nil)
	write(t, filepath.Join(root, "notes.txt"), nil)
	write(t, filepath.Join(root, "sub", "c.JSONL"), nil)
	write(t, filepath.Join(root, "node_modules", "x.jsonl"), nil)

	r := New(&Options{ExcludeDirNames: []string{"Node_Modules"}})
	got, err := r.Expand(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{
		filepath.Join(root, "sub", "c.JSONL"),
		filepath.Join(root, "a.jsonl.gz"),
		filepath.Join(root, "b.jsonl"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestExpandExplicitFilesAndDedup(t *testing.T) {
	root := t.TempDir()
	txt := filepath.Join(root, "data.txt")
	write(t, txt, nil)
	j := filepath.Join(root, "x.jsonl")
	write(t, j, nil)

	got, err := New(nil).Expand(context.Background(), []string{txt, j, root})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	// 显式文件不受后缀限制；目录展开时的重复项被去除
	want := []string{txt, j}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExpandCustomExtensions(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.ndjson"), nil)
	write(t, filepath.Join(root, "b.jsonl"), nil)
	got, err := New(&Options{Extensions: []string{" .NDJSON "}}).Expand(context.Background(), []string{root})
	if err != nil || len(got) != 1 || filepath.Base(got[0]) != "a.ndjson" {
		t.Fatalf("custom extensions: %v %v", got, err)
	}
}

func TestExpandErrors(t *testing.T) {
	r := New(nil)
	if _, err := r.Expand(context.Background(), nil); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("empty roots: %v", err)
	}
	if _, err := r.Expand(context.Background(), []string{"-", "a.jsonl"}); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("mixed stdin: %v", err)
	}
	got, err := r.Expand(context.Background(), []string{"-"})
	if err != nil || !reflect.DeepEqual(got, []string{"-"}) {
		t.Fatalf("stdin only: %v %v", got, err)
	}
	_, err = r.Expand(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	var fe *contract.FileError
	if !errors.As(err, &fe) || fe.Op != "stat" || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing root: %v", err)
	}
}

func TestExpandCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Expand(ctx, []string{t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want Canceled, got %v", err)
	}
}

func TestStackCloserReportsFirstError(t *testing.T) {
	boom := errors.New("boom")
	s := &stackCloser{closers: []io.Closer{errCloser{nil}, errCloser{boom}, errCloser{errors.New("later")}}}
	if err := s.Close(); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

type errCloser struct{ err error }

func (e errCloser) Close() error { return e.err }

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "a.jsonl")
	write(t, ok, []byte("{}\n"))

	if err := Check([]string{ok}); err != nil {
		t.Fatalf("regular file: %v", err)
	}
	err := Check([]string{ok, filepath.Join(dir, "missing.jsonl")})
	var fe *contract.FileError
	if !errors.As(err, &fe) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing: want FileError wrapping ErrNotExist, got %v", err)
	}
	if err := Check([]string{dir}); !errors.Is(err, contract.ErrNotRegular) {
		t.Fatalf("directory: want ErrNotRegular, got %v", err)
	}
}
