// Package jsonlnorm 是库形式的入口：单字符串规范化、单文件与多文件 JSONL 规范化。
// 所有文件入口共享同一条流水线（Reader → 共享 worker 池 → 顺序门闩 → Writer）。
package jsonlnorm

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"

	"jsonlnorm/internal/diag"
	"jsonlnorm/internal/pipeline"
	"jsonlnorm/pkg/contract"
	"jsonlnorm/pkg/normalize"
	rfs "jsonlnorm/plugins/reader/filesystem"
	tjsonl "jsonlnorm/plugins/transformer/jsonl"
	wfs "jsonlnorm/plugins/writer/filesystem"
)

// JobResult 单文件处理结果。
type JobResult = pipeline.JobResult

// Options 作业选项；除 TextColumn 与 Workers 外，零值字段取流水线默认。
type Options struct {
	TextColumn      string
	Workers         int
	QueueDepth      int
	FileConcurrency int
	// OnError: drop（默认）| passthrough。
	OnError string
	// Strict: 记录缺少字段或字段非字符串时按行错误处理。
	Strict    bool
	Normalize normalize.Config
	// LogWriter 非空时输出结构化 JSON 日志；LogLevel 默认 info。
	LogWriter io.Writer
	LogLevel  string
}

func (o Options) settings() pipeline.Settings {
	return pipeline.Settings{
		TextColumn:      o.TextColumn,
		Workers:         o.Workers,
		QueueDepth:      o.QueueDepth,
		FileConcurrency: o.FileConcurrency,
		OnError:         o.OnError,
	}
}

// NormalizeText 使用默认规则规范化单个字符串。
func NormalizeText(text string) string { return normalize.Text(text) }

// NormalizeJSONLFile 规范化单个文件；input/output 可为 "-"（STDIN/STDOUT）。
// 配置错误在任何 I/O 之前返回；文件级失败同时体现在返回值的 Err 与 error 上。
func NormalizeJSONLFile(ctx context.Context, input, output, field string, workers int) (JobResult, error) {
	mapping := contract.PathMapping{{Input: input, Output: output}}
	results, err := Run(ctx, mapping, Options{TextColumn: field, Workers: workers})
	if err != nil {
		if len(results) == 1 {
			return results[0], err
		}
		return JobResult{Input: input, Output: output}, err
	}
	return results[0], results[0].Err
}

// NormalizeJSONLFiles 将 paths 逐个按基名写入 outDir。
// 顺序：参数校验 → 基名映射（冲突为配置错误）→ 输入预检 → 创建 outDir → 处理。
// 返回的 error 仅表示配置/预检错误或取消；单文件失败见各结果的 Err。
func NormalizeJSONLFiles(ctx context.Context, paths []string, outDir, field string, workers int) ([]JobResult, error) {
	opts := Options{TextColumn: field, Workers: workers}
	if err := opts.settings().Validate(); err != nil {
		return nil, err
	}
	mapping, err := contract.MapToDir(paths, outDir)
	if err != nil {
		return nil, err
	}
	if err := rfs.Check(paths); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &contract.FileError{Path: outDir, Op: "create", Err: err}
	}
	return Run(ctx, mapping, opts)
}

// Run 按 mapping 处理全部文件，结果与 mapping 同序。
func Run(ctx context.Context, mapping contract.PathMapping, opts Options) ([]JobResult, error) {
	set := opts.settings()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	w, err := wfs.New(nil)
	if err != nil {
		return nil, err
	}
	comp := pipeline.Components{
		Reader:      rfs.New(nil),
		Transformer: tjsonl.New(&tjsonl.Options{Strict: opts.Strict, Normalize: opts.Normalize}),
		Writer:      w,
	}
	var logger *diag.Logger
	if opts.LogWriter != nil {
		level := opts.LogLevel
		if level == "" {
			level = "info"
		}
		logger = diag.NewLoggerTo(opts.LogWriter, uuid.NewString(), level)
	}
	return pipeline.RunJob(ctx, comp, set, mapping, logger)
}
