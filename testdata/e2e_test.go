package testdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	cfgpkg "jsonlnorm/internal/config"
	"jsonlnorm/internal/pipeline"
	"jsonlnorm/pkg/contract"
)

const (
	fixture  = "reviews.jsonl"
	expected = "reviews.expected.jsonl"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("files", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return b
}

func baseConfig(inputs []string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Inputs = inputs
	cfg.Logging.Level = "error"
	return cfg
}

// runPipeline 装配并执行完整流水线（Reader → Pool → Gate → Writer）。
func runPipeline(t *testing.T, cfg cfgpkg.Config, outDir string) []pipeline.JobResult {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	mapping, err := contract.MapToDir(cfg.Inputs, outDir)
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	results, err := pipeline.RunJob(context.Background(), comp, set, mapping, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("file %s failed: %v", r.Input, r.Err)
		}
	}
	return results
}

func TestE2EDefault(t *testing.T) {
	in := filepath.Join("files", fixture)
	outDir := t.TempDir()
	res := runPipeline(t, baseConfig([]string{in}), outDir)

	got, err := os.ReadFile(filepath.Join(outDir, fixture))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := readFixture(t, expected)
	if !bytes.Equal(got, want) {
		t.Fatalf("output mismatch\nwant:\n%s\ngot:\n%s", want, got)
	}
	r := res[0]
	if r.Processed != 6 || r.Failed != 2 || r.Skipped != 1 {
		t.Fatalf("counts processed=%d failed=%d skipped=%d", r.Processed, r.Failed, r.Skipped)
	}
	if len(r.Errors) != 2 || r.Errors[0].Index != 3 || r.Errors[1].Index != 5 {
		t.Fatalf("unexpected error samples: %+v", r.Errors)
	}
}

func TestE2EIdempotent(t *testing.T) {
	first := t.TempDir()
	runPipeline(t, baseConfig([]string{filepath.Join("files", fixture)}), first)

	second := t.TempDir()
	runPipeline(t, baseConfig([]string{filepath.Join(first, fixture)}), second)

	a, _ := os.ReadFile(filepath.Join(first, fixture))
	b, _ := os.ReadFile(filepath.Join(second, fixture))
	if !bytes.Equal(a, b) {
		t.Fatalf("second pass changed output\nfirst:\n%s\nsecond:\n%s", a, b)
	}
}

func TestE2EPassthrough(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig([]string{filepath.Join("files", fixture)})
	cfg.OnError = pipeline.OnErrorPassthrough
	runPipeline(t, cfg, outDir)

	got, err := os.ReadFile(filepath.Join(outDir, fixture))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(got), "\n"), "\n")
	if len(lines) != 8 {
		t.Fatalf("want 8 lines (blank skipped), got %d:\n%s", len(lines), got)
	}
	if lines[3] != "not json at all" || lines[5] != "[1,2,3]" {
		t.Fatalf("failed lines must stay in place verbatim: %q %q", lines[3], lines[5])
	}
}

func TestE2ECompressed(t *testing.T) {
	raw := readFixture(t, fixture)
	want := readFixture(t, expected)
	dir := t.TempDir()

	gzIn := filepath.Join(dir, "src", "reviews.jsonl.gz")
	zsIn := filepath.Join(dir, "src", "reviews.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(gzIn), 0o755); err != nil {
		t.Fatal(err)
	}
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(gzIn, gz.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(zsIn, enc.EncodeAll(raw, nil), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = enc.Close()

	outDir := filepath.Join(dir, "out")
	cfg := baseConfig([]string{gzIn, zsIn})
	cfg.Workers = 4
	cfg.FileConcurrency = 2
	runPipeline(t, cfg, outDir)

	f, err := os.Open(filepath.Join(outDir, "reviews.jsonl.gz"))
	if err != nil {
		t.Fatalf("open gz output: %v", err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gz output header: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("gz output: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("gzip output mismatch:\n%s", got)
	}

	zb, err := os.ReadFile(filepath.Join(outDir, "reviews.jsonl.zst"))
	if err != nil {
		t.Fatalf("read zst output: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	got, err = dec.DecodeAll(zb, nil)
	if err != nil {
		t.Fatalf("zst output: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("zstd output mismatch:\n%s", got)
	}
}

func TestE2EDeterministicAcrossWorkers(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		switch i % 7 {
		case 3:
			sb.WriteString("{broken\n")
		case 5:
			fmt.Fprintf(&sb, "{\"id\":%d,\"other\":\"ÀÉÎ\"}\n", i)
		default:
			text, _ := json.Marshal(fmt.Sprintf("Row %d — Ｍｉｘｅｄ  Çase, «quoted» ½", i))
			fmt.Fprintf(&sb, "{\"id\":%d,\"text\":%s}\n", i, text)
		}
	}
	var inputs []string
	for _, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl"} {
		p := filepath.Join(dir, "src", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(sb.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		inputs = append(inputs, p)
	}

	var want []byte
	for _, w := range []int{1, 2, 8} {
		outDir := filepath.Join(dir, fmt.Sprintf("out-%d", w))
		cfg := baseConfig(inputs)
		cfg.Workers = w
		cfg.FileConcurrency = 3
		runPipeline(t, cfg, outDir)
		for _, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl"} {
			got, err := os.ReadFile(filepath.Join(outDir, name))
			if err != nil {
				t.Fatalf("workers=%d %s: %v", w, name, err)
			}
			if want == nil {
				want = got
				continue
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("workers=%d %s differs from workers=1 output", w, name)
			}
		}
	}
}
