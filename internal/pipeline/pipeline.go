package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"jsonlnorm/internal/diag"
	"jsonlnorm/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；Reader/Transformer/Writer 均为同步组件。
// - 共享池：一个作业只建一个 Pool，所有文件的行共用 W 个 worker。
// - 顺序门闩：同一文件的行按 Index 严格递增写出；乱序结果暂存，连续冲刷。
// - 文件隔离：单文件 I/O 错误只终止该文件，其余文件继续；行级错误只影响该行。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader      contract.Reader
	Transformer contract.Transformer
	Writer      contract.Writer
}

// Settings 作业级配置（一次构造，运行期只读）。
type Settings struct {
	// TextColumn: 需要规范化的字段名。
	TextColumn string
	// Workers: 共享池 worker 数（>=1）。
	Workers int
	// QueueDepth: 共享池队列容量；<=0 取 2×Workers。
	QueueDepth int
	// FileConcurrency: 同时处理的文件数；<=0 取 1。
	FileConcurrency int
	// Window: 单文件在途行上限；<=0 取 4×QueueDepth。
	Window int
	// OnError: drop|passthrough。
	OnError string
	// MaxErrorSamples: 单文件保留的行级错误样本数。
	MaxErrorSamples int
}

// RunJob 处理 mapping 中的全部文件，结果按 mapping 顺序返回。
// 返回的 error 仅表示配置错误（任何 I/O 之前）或作业被取消；单文件失败记录在对应 JobResult.Err。
func RunJob(ctx context.Context, comp Components, set Settings, mapping contract.PathMapping, logger *diag.Logger) ([]JobResult, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	pool, err := NewPool(set.Workers, set.QueueDepth, TransformHandler(comp.Transformer, set.TextColumn))
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	conc := set.FileConcurrency
	if conc < 1 {
		conc = 1
	}
	jt := logger.StartWithKV("job", "run", "", "", map[string]string{
		"files":            fmt.Sprintf("%d", len(mapping)),
		"workers":          fmt.Sprintf("%d", pool.Workers()),
		"queue_depth":      fmt.Sprintf("%d", pool.QueueDepth()),
		"file_concurrency": fmt.Sprintf("%d", conc),
	})

	results := make([]JobResult, len(mapping))
	var g errgroup.Group
	g.SetLimit(conc)
	for i, pair := range mapping {
		results[i] = JobResult{Input: pair.Input, Output: pair.Output}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i] = runOne(ctx, comp, set, pool, pair, logger)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		logger.Error("job", string(diag.CodeCancel), "job cancelled", nil)
		return results, err
	}
	jt.Finish("run", int64(len(results)-failed))
	return results, nil
}

// runOne 处理单个文件：Reader.Open → RunFile → io.Pipe → Writer.Write。
func runOne(ctx context.Context, comp Components, set Settings, pool *Pool, pair contract.PathPair, logger *diag.Logger) JobResult {
	res := JobResult{Input: pair.Input, Output: pair.Output}
	fileID := string(contract.NormalizeFileID(pair.Input))
	start := time.Now()

	term := diag.GetTerminal()
	term.FileStart(fileID)
	defer func() {
		res.Duration = time.Since(start)
		term.FileFinish(fileID, res.Err == nil, res.Processed+res.Skipped+res.Failed, res.Failed, res.Duration)
	}()

	rt := logger.StartWith("reader", "open", fileID, "")
	rc, err := comp.Reader.Open(ctx, pair.Input)
	if err != nil {
		res.Err = fileErr(pair.Input, "open", err)
		logFailure(logger, "reader", "open failed", res.Err, fileID)
		return res
	}
	defer rc.Close()
	rt.Finish("open", 0)

	// 管道：RunFile 写入 pw，Writer 单次 Write 流式落盘。
	// Writer 提前返回时关闭 pr，使 RunFile 的写出立即失败而不是阻塞。
	pr, pw := io.Pipe()
	wdone := make(chan error, 1)
	go func() {
		werr := comp.Writer.Write(ctx, contract.ArtifactID(pair.Output), pr)
		if werr != nil {
			_ = pr.CloseWithError(werr)
		} else {
			_ = pr.Close()
		}
		wdone <- werr
	}()

	ft := logger.StartWith("file_pipeline", "run", fileID, "")
	fres, ferr := RunFile(ctx, rc, pw, pool, FileSettings{
		FileID:          contract.FileID(fileID),
		Window:          set.Window,
		OnError:         set.OnError,
		MaxErrorSamples: set.MaxErrorSamples,
	}, logger)
	if ferr != nil {
		_ = pw.CloseWithError(ferr)
	} else {
		_ = pw.Close()
	}
	werr := <-wdone

	res.Processed, res.Skipped, res.Failed, res.Errors = fres.Processed, fres.Skipped, fres.Failed, fres.Errors
	switch {
	case werr != nil:
		res.Err = fileErr(pair.Output, "write", werr)
		logFailure(logger, "writer", "write failed", res.Err, fileID)
	case ferr != nil:
		res.Err = ferr
	default:
		ft.Finish("run", res.Processed)
		if res.Failed > 0 {
			logger.WarnWith("file_pipeline", "record errors", fileID, map[string]string{
				"failed": fmt.Sprintf("%d", res.Failed),
				"first":  res.Errors[0].Error(),
			})
		}
	}
	return res
}

func fileErr(path, op string, err error) error {
	var fe *contract.FileError
	if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &contract.FileError{Path: path, Op: op, Err: err}
}

func logFailure(logger *diag.Logger, comp, msg string, err error, fileID string) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), msg+": "+err.Error(), nil, fileID, "")
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Transformer == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	return s.Validate()
}

// Validate 校验作业级配置；失败均包裹 ErrConfig，可在任何 I/O 之前调用。
func (s Settings) Validate() error {
	if s.Workers < 1 {
		return contract.Configf("workers must be >= 1, got %d", s.Workers)
	}
	if strings.TrimSpace(s.TextColumn) == "" {
		return contract.Configf("text column is empty")
	}
	if s.OnError != "" && s.OnError != OnErrorDrop && s.OnError != OnErrorPassthrough {
		return contract.Configf("unknown on_error policy %q", s.OnError)
	}
	return nil
}
