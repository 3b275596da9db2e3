package stress

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	cfgpkg "jsonlnorm/internal/config"
	"jsonlnorm/internal/pipeline"
	"jsonlnorm/pkg/contract"
)

const stressLines = 50000

// baseConfig 构造可运行的最小配置。
func baseConfig(inputs []string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Inputs = inputs
	cfg.Logging.Level = "error"
	return cfg
}

// runPipeline 执行完整流水线。
func runPipeline(cfg cfgpkg.Config, outDir string) ([]pipeline.JobResult, error) {
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return nil, err
	}
	mapping, err := contract.MapToDir(cfg.Inputs, outDir)
	if err != nil {
		return nil, err
	}
	return pipeline.RunJob(context.Background(), comp, set, mapping, nil)
}

// writeInput 生成带递增 id 的合成输入；每 97 行一条坏行。
func writeInput(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		if i%97 == 96 {
			fmt.Fprintf(w, "{\"id\":%d,\"text\":\n", i)
			continue
		}
		fmt.Fprintf(w, "{\"id\":%d,\"text\":\"Ｌｉｎｅ %d — Crème BRÛLÉE!!  über\\tStraße\",\"n\":%d}\n", i, i, i*i)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush input: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close input: %v", err)
	}
}

// checkOrder 校验输出行数与 id 严格递增。
func checkOrder(path string, want int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	prev := int64(-1)
	n := 0
	for sc.Scan() {
		id := gjson.GetBytes(sc.Bytes(), "id").Int()
		if id <= prev {
			return fmt.Errorf("line %d: id %d after %d", n, id, prev)
		}
		prev = id
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("got %d lines, want %d", n, want)
	}
	return nil
}

// TestStress 在不同 worker 数下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	dataDir := t.TempDir()
	var inputs []string
	for _, name := range []string{"a.jsonl", "b.jsonl"} {
		p := filepath.Join(dataDir, name)
		writeInput(t, p, stressLines)
		inputs = append(inputs, p)
	}
	bad := stressLines / 97
	good := stressLines - bad

	levels := []int{1, 8, 16, 32, 64}
	for _, workers := range levels {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			const runs = 3
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				outDir := t.TempDir()
				cfg := baseConfig(inputs)
				cfg.Workers = workers
				cfg.FileConcurrency = 2
				start := time.Now()
				results, err := runPipeline(cfg, outDir)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				ok := true
				for _, r := range results {
					if r.Err != nil || r.Processed != int64(good) || r.Failed != int64(bad) {
						t.Errorf("run %d %s: err=%v processed=%d failed=%d", i, r.Input, r.Err, r.Processed, r.Failed)
						ok = false
						continue
					}
					if err := checkOrder(r.Output, good); err != nil {
						t.Errorf("run %d %s: %v", i, r.Output, err)
						ok = false
					}
				}
				if !ok {
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("workers=%d 成功率%.2f 平均%v 95%%延迟%v 行/秒%.0f", workers,
				float64(successes)/float64(runs), avg, p95, float64(2*stressLines)/avg.Seconds())
		})
	}
}
